package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// render writes rows in the selected format. obj is the structured document
// used for json/yaml; headers/rows feed table and csv; count prints the row
// count alone.
func render(headers []string, rows [][]string, obj any) error {
	switch flagFormat {
	case "table":
		t := tablewriter.NewWriter(os.Stdout)
		t.SetHeader(headers)
		t.SetAutoWrapText(false)
		t.AppendBulk(rows)
		t.Render()
		return nil

	case "csv":
		w := csv.NewWriter(os.Stdout)
		if err := w.Write(headers); err != nil {
			return err
		}
		if err := w.WriteAll(rows); err != nil {
			return err
		}
		w.Flush()
		return w.Error()

	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(obj)

	case "yaml":
		out, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err

	case "count":
		fmt.Println(len(rows))
		return nil

	default:
		return fmt.Errorf("unknown format %q", flagFormat)
	}
}
