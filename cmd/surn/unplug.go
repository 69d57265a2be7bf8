package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var flagUnplugLang string

var unplugCmd = &cobra.Command{
	Use:   "unplug <source-file>",
	Short: "Map target-language source back to a unified-source AST",
	Long:  "Parses a source file with the language's tree-sitter grammar and applies its unplug rules, printing the unified-source AST as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnplug,
}

func init() {
	unplugCmd.Flags().StringVarP(&flagUnplugLang, "lang", "l", "", "source language (default: inferred from the file extension)")
}

func runUnplug(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	e, err := newEngine(ctx, nil)
	if err != nil {
		return outputError("unplug", err)
	}
	defer e.Close()

	path := args[0]
	lang := flagUnplugLang
	if lang == "" {
		var ok bool
		if lang, ok = e.LanguageForFile(path); !ok {
			return outputError("unplug", fmt.Errorf("no language handles %s: pass --lang", path))
		}
	}

	var src []byte
	if path == "-" {
		src, err = io.ReadAll(cmd.InOrStdin())
	} else {
		src, err = os.ReadFile(path)
	}
	if err != nil {
		return outputError("unplug", err)
	}

	root, err := e.UnplugSource(ctx, lang, src)
	if err != nil {
		return outputError("unplug", err)
	}
	data, err := root.MarshalJSON()
	if err != nil {
		return outputError("unplug", err)
	}
	if flagFormat == "text" {
		return outputResult(CLIResult{Command: "unplug", Results: json.RawMessage(data)})
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return outputError("unplug", err)
	}
	return outputResult(CLIResult{Command: "unplug", Results: generic})
}
