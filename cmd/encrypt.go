/*
Copyright © 2024 xeBook
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xebook/readium-encrypt/pkg/encrypt"
	"github.com/xebook/readium-encrypt/pkg/pipeline"
)

var (
	encryptOutput    string
	encryptContentID string
	encryptSend      bool
	encryptPublish   bool
	encryptFormat    string
)

// encryptCmd represents the encrypt command
var encryptCmd = &cobra.Command{
	Use:   "encrypt <source>",
	Short: "Protect an EPUB or PDF publication",
	Long: `Encrypt a publication with the LCP encryption tool.

The source is a local path, a file:// URL, an s3://<host>/<path> locator read
from the configured bucket, or an http(s):// URL. Remote sources are fetched to
a temporary file first.

Examples:
  readium-encrypt encrypt ./book.epub
  readium-encrypt encrypt s3://publisher/books/book.pdf -s --publish
  readium-encrypt encrypt file:///data/book.epub --content-id 42 -o /data/out.lcp`,
	Args: cobra.ExactArgs(1),
	RunE: encryptRun,
}

func init() {
	rootCmd.AddCommand(encryptCmd)

	encryptCmd.Flags().StringVarP(&encryptOutput, "output", "o", "", "path of the protected file (default: the configured tempdir)")
	encryptCmd.Flags().StringVar(&encryptContentID, "content-id", "", "content identifier (generated by the tool when empty)")
	encryptCmd.Flags().StringVar(&encryptContentID, "id", "", "alias of --content-id")
	encryptCmd.Flags().BoolVarP(&encryptSend, "send-to-license-server", "s", false, "notify the configured License Server")
	encryptCmd.Flags().BoolVar(&encryptPublish, "publish", false, "publish an EncryptedResource message to the broker")
	encryptCmd.Flags().StringVarP(&encryptFormat, "format", "f", "json", "output format: json, yaml or toml")
}

func encryptRun(cmd *cobra.Command, args []string) error {
	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("could not acquire run lock %s: %w", cfg.LockFile, err)
	}
	if !locked {
		slog.Warn("The command is already running in another process.", slog.String("lock", cfg.LockFile))
		return nil
	}
	defer func() { _ = lock.Unlock() }()

	comp, err := buildPipeline(cmd.Context(), cfg, encryptPublish)
	if err != nil {
		return err
	}
	defer func() { _ = comp.Close() }()

	res, err := comp.pipeline.Run(cmd.Context(), pipeline.Request{
		Source:              args[0],
		ContentID:           encryptContentID,
		Output:              encryptOutput,
		SendToLicenseServer: encryptSend,
		Publish:             encryptPublish,
	})
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), encryptFormat, res.Response)
}

// render writes the tool response in the requested format.
func render(w io.Writer, format string, resp *encrypt.Response) error {
	var (
		out []byte
		err error
	)
	switch format {
	case "", "json":
		out, err = json.MarshalIndent(resp, "", "  ")
		out = append(out, '\n')
	case "yaml", "yml":
		out, err = yaml.Marshal(resp)
	case "toml":
		out, err = toml.Marshal(resp)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
