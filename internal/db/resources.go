package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xebook/readium-encrypt/pkg/message"
)

// Record is a stored EncryptedResource with its bookkeeping timestamps.
type Record struct {
	Resource  message.EncryptedResource `json:"resource"`
	CreatedAt time.Time                 `json:"createdAt"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

// SaveResource inserts r or, when the content id was protected before,
// replaces the stored values.
func (c *Client) SaveResource(ctx context.Context, r message.EncryptedResource) error {
	args := pgx.NamedArgs{
		"id":                  r.ID(),
		"source":              r.Source(),
		"key":                 r.Key(),
		"location":            r.Location(),
		"length":              r.Length(),
		"hash":                r.Hash(),
		"disposition":         r.Disposition(),
		"contentType":         r.Type(),
		"sendToLicenseServer": r.SendToLicenseServer(),
	}
	_, err := c.Exec(ctx, `
		INSERT INTO encrypted_resources
			(id, source, encryption_key, location, length, hash, disposition, content_type, sent_to_license_server)
		VALUES
			(@id, @source, @key, @location, @length, @hash, @disposition, @contentType, @sendToLicenseServer)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			encryption_key = EXCLUDED.encryption_key,
			location = EXCLUDED.location,
			length = EXCLUDED.length,
			hash = EXCLUDED.hash,
			disposition = EXCLUDED.disposition,
			content_type = EXCLUDED.content_type,
			sent_to_license_server = EXCLUDED.sent_to_license_server,
			updated_at = now()
	`, args)
	return err
}

// ListResources returns the most recently protected resources first.
func (c *Client) ListResources(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	records := []Record{}
	rows, err := c.Query(ctx, `
		SELECT id, source, encryption_key, location, length, hash, disposition, content_type,
			sent_to_license_server, created_at, updated_at
		FROM encrypted_resources
		ORDER BY created_at DESC
		LIMIT @limit
	`, pgx.NamedArgs{"limit": limit})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, source, key, location, hash, disposition, contentType string
			length                                                    int64
			sent                                                      bool
			rec                                                       Record
		)
		err := rows.Scan(&id, &source, &key, &location, &length, &hash, &disposition, &contentType,
			&sent, &rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return nil, err
		}
		rec.Resource = message.New(source, id, key, location, length, hash, disposition, contentType, sent)
		records = append(records, rec)
	}
	return records, rows.Err()
}
