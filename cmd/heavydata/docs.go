package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/VanDung-dev/HeavyData-Engine/heavydata"
	"github.com/VanDung-dev/HeavyData-Engine/schema"
)

func newDocsCommand(g *globals) *cobra.Command {
	var schemaFile string
	cmd := &cobra.Command{
		Use:   "docs [PATH]",
		Short: "Print markdown documentation of schemas",
		Long: `
Prints the documentation of the schemas stored in PATH, of the schema
document given with --schemas, or of the built-in sample schemas.
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var (
				reg *schema.Registry
				err error
			)
			switch {
			case len(args) == 1:
				reg, err = heavydata.New(args[0], g.handleOptions()...).SchemaRegistry()
			case schemaFile != "":
				var doc []byte
				if doc, err = os.ReadFile(schemaFile); err == nil {
					reg, err = schema.Compile(doc)
				}
			default:
				reg, err = schema.Compile(schema.SampleDocument)
			}
			if err != nil {
				return err
			}
			fmt.Fprint(g.stdout, reg.Doc())
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaFile, "schemas", "", "schema document to document")
	return cmd
}
