package message

import (
	"encoding/json"

	"github.com/xebook/readium-encrypt/pkg/encrypt"
)

// HashType is the only digest the encryption tool reports.
const HashType = "sha256"

// EncryptedResource describes one protected publication. It is built once
// from the tool output and never modified.
type EncryptedResource struct {
	source              string
	id                  string
	key                 string
	location            string
	length              int64
	hash                string
	disposition         string
	contentType         string
	sendToLicenseServer bool
}

type wireResource struct {
	Source              string `json:"source"`
	ID                  string `json:"id"`
	Key                 string `json:"key"`
	Location            string `json:"location"`
	Length              int64  `json:"length"`
	Hash                string `json:"hash"`
	HashType            string `json:"hashType"`
	Disposition         string `json:"disposition"`
	Type                string `json:"type"`
	SendToLicenseServer bool   `json:"sendToLicenseServer"`
}

func New(source, id, key, location string, length int64, hash, disposition, contentType string, sendToLicenseServer bool) EncryptedResource {
	return EncryptedResource{
		source:              source,
		id:                  id,
		key:                 key,
		location:            location,
		length:              length,
		hash:                hash,
		disposition:         disposition,
		contentType:         contentType,
		sendToLicenseServer: sendToLicenseServer,
	}
}

// NewEncryptedResource builds the message for a successful tool run.
func NewEncryptedResource(source string, res *encrypt.Response, sendToLicenseServer bool) EncryptedResource {
	return New(source, res.ContentID, res.ContentKey, res.Location, res.Length,
		res.SHA256, res.Disposition, res.ContentType, sendToLicenseServer)
}

func (r EncryptedResource) Source() string            { return r.source }
func (r EncryptedResource) ID() string                { return r.id }
func (r EncryptedResource) Key() string               { return r.key }
func (r EncryptedResource) Location() string          { return r.location }
func (r EncryptedResource) Length() int64             { return r.length }
func (r EncryptedResource) Hash() string              { return r.hash }
func (r EncryptedResource) HashType() string          { return HashType }
func (r EncryptedResource) Disposition() string       { return r.disposition }
func (r EncryptedResource) Type() string              { return r.contentType }
func (r EncryptedResource) SendToLicenseServer() bool { return r.sendToLicenseServer }

func (r EncryptedResource) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireResource{
		Source:              r.source,
		ID:                  r.id,
		Key:                 r.key,
		Location:            r.location,
		Length:              r.length,
		Hash:                r.hash,
		HashType:            HashType,
		Disposition:         r.disposition,
		Type:                r.contentType,
		SendToLicenseServer: r.sendToLicenseServer,
	})
}

func (r *EncryptedResource) UnmarshalJSON(b []byte) error {
	var w wireResource
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = New(w.Source, w.ID, w.Key, w.Location, w.Length, w.Hash, w.Disposition, w.Type, w.SendToLicenseServer)
	return nil
}
