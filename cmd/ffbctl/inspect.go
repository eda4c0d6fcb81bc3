package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wippyai/ffb-runtime/abi"
	"github.com/wippyai/ffb-runtime/engine"
)

var limitsCmd = &cobra.Command{
	Use:   "limits [preset]",
	Short: "Show WASM sandbox limits for a preset",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names := []string{"default", "conservative", "generous"}
		if len(args) == 1 {
			names = args
		}
		for _, name := range names {
			l, err := engine.LimitsByName(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-13s %s\n", name, l)
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Decode a native plugin header or check that a WASM plugin loads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if bytes.HasPrefix(data, []byte("\x00asm")) {
			return inspectWasm(cmd, data)
		}
		return inspectHeader(cmd.OutOrStdout(), data)
	},
}

func inspectHeader(w io.Writer, data []byte) error {
	var h abi.Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}
	fmt.Fprintf(w, "magic:        0x%08X\n", h.Magic)
	fmt.Fprintf(w, "abi version:  %s\n", abi.VersionString(h.ABIVersion))
	fmt.Fprintf(w, "capabilities: %s\n", h.Capabilities)
	if err := h.Validate(); err != nil {
		fmt.Fprintf(w, "status:       invalid (%v)\n", err)
		return err
	}
	fmt.Fprintln(w, "status:       ok")
	return nil
}

func inspectWasm(cmd *cobra.Command, data []byte) error {
	ctx := cmd.Context()
	rt, err := engine.NewRuntime(engine.ConservativeLimits())
	if err != nil {
		return err
	}
	defer rt.Close(ctx)
	if err := rt.LoadPlugin(ctx, "inspect", data, nil); err != nil {
		return err
	}
	out, err := rt.Process(ctx, "inspect", 0.5, 0.001)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wasm plugin loads; process(0.5) = %g\n", out)
	return nil
}
