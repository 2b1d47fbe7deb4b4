package cmd

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

type uploadResult struct {
	Key   string `json:"key"`
	Bytes uint32 `json:"bytes"`
}

func newBackupCommand() *cobra.Command {
	var (
		output string
		upload bool
	)

	cmd := &cobra.Command{
		Use:   "backup [TARGET]",
		Short: "Dump a partition to a local file, or push it to the agent's S3 store",
		Long: `Downloads the named partition (default: the whole chip) to a local file.
With --upload the agent streams the dump to its configured S3 bucket instead
and nothing crosses the rescue link but the object key.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "full"
			if len(args) == 1 {
				target = args[0]
			}
			q := url.Values{}
			q.Set("target", target)

			if upload {
				var res uploadResult
				if err := postJSON("/backup/upload", q, nil, 0, &res); err != nil {
					return err
				}
				fmt.Printf("Uploaded %d bytes as %s\n", res.Bytes, res.Key)
				return nil
			}

			// Dumps can take a while at chip scale; no client timeout.
			resp, err := http.Get(endpoint("/backup", q))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("agent returned %s: %s", resp.Status, string(body))
			}

			name := output
			if name == "" {
				name = suggestedFilename(resp, target)
			}

			f, err := os.Create(name)
			if err != nil {
				return err
			}
			n, err := io.Copy(f, resp.Body)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("dump incomplete after %d bytes: %w", n, err)
			}

			fmt.Printf("Saved %d bytes to %s\n", n, name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to the agent's suggested name)")
	cmd.Flags().BoolVar(&upload, "upload", false, "Upload to the agent's S3 store instead of downloading")
	return cmd
}

func suggestedFilename(resp *http.Response, fallback string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	return fallback + ".bin"
}
