package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"text/template"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/eringen/pubdesk"
)

var (
	initOutput string
	initForce  bool
)

var envTemplate = template.Must(template.New("env").Parse(`# pubdesk configuration. Copy to .env and adjust.
{{range .Vars}}{{if eq .Name "SESSION_SECRET"}}{{.Name}}={{$.Secret}}
{{else}}{{.Name}}={{.Default}}
{{end}}{{end}}`))

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example environment file",
	Long: `Write every configuration variable with its default to .env.example.
SESSION_SECRET is filled with a fresh random value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(initOutput); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", initOutput)
		}
		f, err := os.Create(initOutput)
		if err != nil {
			return err
		}
		if err := writeEnv(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Wrote %s\n", green("✓"), initOutput)
		fmt.Println("\nNext steps:")
		fmt.Printf("  cp %s .env\n", initOutput)
		fmt.Println("  pubdesk migrate")
		fmt.Println("  pubdesk create-admin --email you@example.com --name \"Your Name\"")
		fmt.Println("  pubdesk serve")
		return nil
	},
}

func writeEnv(w io.Writer) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	return envTemplate.Execute(w, struct {
		Vars   []pubdesk.EnvVar
		Secret string
	}{pubdesk.EnvVars(), hex.EncodeToString(secret)})
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", ".env.example", "file to write")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}
