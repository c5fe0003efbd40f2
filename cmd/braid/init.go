package main

import (
	"fmt"
	"os"
	"text/template"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// configTmpl renders the generated braid.yaml.
var configTmpl = template.Must(template.New("config").Parse(`version: "1"
listen: {{printf "%q" .Listen}}
data_dir: {{printf "%q" .DataDir}}
default_provider: provider.openai

modules:
  store.sqlite: {}
  provider.openai:
    base_url: {{printf "%q" .BaseURL}}
    model: {{printf "%q" .Model}}
    api_key_env: {{printf "%q" .APIKeyEnv}}
  gateway.http:
{{- if .BearerToken}}
    auth:
      bearer_token: {{printf "%q" .BearerToken}}
{{- else}}
    {}
{{- end}}

maintenance:
  branch_cleanup_schedule: "0 * * * *"
  keep_active: true
`))

type initAnswers struct {
	Listen      string
	DataDir     string
	BaseURL     string
	Model       string
	APIKeyEnv   string
	BearerToken string
	Output      string
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively generate a braid.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			answers := initAnswers{
				Listen:    "127.0.0.1:8080",
				DataDir:   "data",
				BaseURL:   "https://api.openai.com/v1",
				Model:     "gpt-4o",
				APIKeyEnv: "OPENAI_API_KEY",
				Output:    "braid.yaml",
			}

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Listen address").
						Description("Host:port the HTTP gateway binds to").
						Value(&answers.Listen),
					huh.NewInput().
						Title("Data directory").
						Description("Where the SQLite store keeps its files").
						Value(&answers.DataDir),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Provider base URL").
						Description("Any OpenAI-compatible endpoint works").
						Value(&answers.BaseURL),
					huh.NewInput().
						Title("Default model").
						Value(&answers.Model),
					huh.NewInput().
						Title("API key environment variable").
						Description("The key is read from the environment, never stored").
						Value(&answers.APIKeyEnv),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("API bearer token").
						Description("Leave empty to serve the API without auth").
						Value(&answers.BearerToken),
					huh.NewInput().
						Title("Output path").
						Value(&answers.Output),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			f, err := os.OpenFile(answers.Output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return fmt.Errorf("create %s: %w", answers.Output, err)
			}
			defer f.Close()

			if err := configTmpl.Execute(f, answers); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", answers.Output)
			return nil
		},
	}
}
