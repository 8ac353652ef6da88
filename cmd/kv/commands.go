package kv

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/hKV/cmd/util"
	"github.com/ValentinKolb/hKV/lib/ops"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key] [path...]",
		Short: "Reads the value for a key (or a nested field)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := util.ParseKey(args[0])
			version, err := versionFlag(cmd, "version")
			if err != nil {
				return err
			}

			if len(args) > 1 {
				v, err := db.GetPath(cmd.Context(), key, args[1:], version)
				if err != nil {
					return err
				}
				fmt.Println(util.FormatValue(v))
				return nil
			}

			if entry, _ := cmd.Flags().GetBool("entry"); entry {
				e, err := db.GetEntry(cmd.Context(), key, version)
				if err != nil {
					return err
				}
				if e == nil {
					fmt.Println("null")
					return nil
				}
				fmt.Printf("key=%s, version=%d, value=%s\n", util.FormatValue(e.Key), e.Version, util.FormatValue(e.Value))
				return nil
			}

			v, err := db.Get(cmd.Context(), key, version)
			if err != nil {
				return err
			}
			fmt.Println(util.FormatValue(v))
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Writes the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := conditionFlags(cmd)
			if err != nil {
				return err
			}
			return printResult(db.Put(cmd.Context(), util.ParseKey(args[0]), util.ParseValue(args[1]), cond))
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ifVersion, err := versionFlag(cmd, "if-version")
			if err != nil {
				return err
			}
			return printResult(db.Remove(cmd.Context(), util.ParseKey(args[0]), ifVersion))
		},
	}
	patchCmd = &cobra.Command{
		Use:   "patch [key] [path...] [value]",
		Short: "Merges an object into the value of a key, or sets a nested field when a path is given",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := util.ParseKey(args[0])
			value := util.ParseValue(args[len(args)-1])
			path := args[1 : len(args)-1]

			if len(path) > 0 {
				ifVersion, err := versionFlag(cmd, "if-version")
				if err != nil {
					return err
				}
				extend, _ := cmd.Flags().GetBool("extend")
				return printResult(db.PatchPath(cmd.Context(), key, path, value, ifVersion, extend))
			}

			partial, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("patch value must be an object, got %s", util.FormatValue(value))
			}
			cond, err := conditionFlags(cmd)
			if err != nil {
				return err
			}
			return printResult(db.Patch(cmd.Context(), key, partial, cond))
		},
	}
	copyCmd = &cobra.Command{
		Use:   "copy [src] [dst]",
		Short: "Copies the value of src to dst",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := conditionFlags(cmd)
			if err != nil {
				return err
			}
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			return printResult(db.Copy(cmd.Context(), util.ParseKey(args[0]), util.ParseKey(args[1]), cond, overwrite))
		},
	}
	moveCmd = &cobra.Command{
		Use:   "move [src] [dst]",
		Short: "Moves the value of src to dst",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := conditionFlags(cmd)
			if err != nil {
				return err
			}
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			return printResult(db.Move(cmd.Context(), util.ParseKey(args[0]), util.ParseKey(args[1]), cond, overwrite))
		},
	}
	rangeCmd = &cobra.Command{
		Use:   "range [start] [end]",
		Short: "Lists the entries in [start, end), following pages until the range is done",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ops.ScanRequest{}
			if len(args) > 0 && args[0] != "" {
				req.Start = util.ParseKey(args[0])
			}
			if len(args) > 1 && args[1] != "" {
				req.End = util.ParseKey(args[1])
			}
			req.Limit, _ = cmd.Flags().GetInt("limit")
			req.Offset, _ = cmd.Flags().GetInt("offset")
			req.Versions, _ = cmd.Flags().GetBool("versions")
			if sel, _ := cmd.Flags().GetString("select"); sel != "" {
				req.Select = strings.Split(sel, ",")
			}
			if m, _ := cmd.Flags().GetString("key-match"); m != "" {
				req.KeyMatch = util.ParseValue(m)
			}
			if m, _ := cmd.Flags().GetString("value-match"); m != "" {
				req.ValueMatch = util.ParseValue(m)
			}
			all, _ := cmd.Flags().GetBool("all")

			for {
				page, err := db.Range(cmd.Context(), req)
				if err != nil {
					return err
				}
				for _, it := range page.Items {
					if it.Version != nil {
						fmt.Printf("%s\t%d\t%s\n", util.FormatValue(it.Key), *it.Version, util.FormatValue(it.Value))
					} else {
						fmt.Printf("%s\t%s\n", util.FormatValue(it.Key), util.FormatValue(it.Value))
					}
				}
				if page.Done || page.Offset == nil {
					return nil
				}
				if !all {
					fmt.Printf("more entries, continue with --offset=%d\n", *page.Offset)
					return nil
				}
				req.Offset = *page.Offset
			}
		},
	}
)

func init() {
	getCmd.Flags().String("version", "", util.WrapString("Only return the value if it has this version (for a path read: only if the entry has it)"))
	getCmd.Flags().Bool("entry", false, util.WrapString("Print key, value and version"))

	for _, c := range []*cobra.Command{putCmd, patchCmd, copyCmd, moveCmd} {
		c.Flags().String("version", "", util.WrapString("Version to store instead of incrementing the current one"))
		c.Flags().String("if-version", "", util.WrapString("Only write if the current version matches (0 = key must not exist)"))
	}
	delCmd.Flags().String("if-version", "", util.WrapString("Only delete if the current version matches"))
	patchCmd.Flags().Bool("extend", false, util.WrapString("Create missing intermediate objects of the path"))
	copyCmd.Flags().Bool("overwrite", false, util.WrapString("Replace an existing destination"))
	moveCmd.Flags().Bool("overwrite", false, util.WrapString("Replace an existing destination"))

	rangeCmd.Flags().Int("limit", 100, util.WrapString("Page size"))
	rangeCmd.Flags().Int("offset", 0, util.WrapString("Offset returned by a previous page"))
	rangeCmd.Flags().Bool("all", false, util.WrapString("Follow all pages"))
	rangeCmd.Flags().Bool("versions", false, util.WrapString("Print versions"))
	rangeCmd.Flags().String("select", "", util.WrapString("Comma-separated list of fields to return from object values"))
	rangeCmd.Flags().String("key-match", "", util.WrapString("Partial key pattern (JSON)"))
	rangeCmd.Flags().String("value-match", "", util.WrapString("Partial value pattern (JSON), strings like @RegExp(/x/) match by regular expression"))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func printResult(ok bool, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(ok)
	return nil
}

func versionFlag(cmd *cobra.Command, name string) (*uint64, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("--%s must be a number: %w", name, err)
	}
	return &v, nil
}

func conditionFlags(cmd *cobra.Command) (ops.Conditions, error) {
	version, err := versionFlag(cmd, "version")
	if err != nil {
		return ops.Conditions{}, err
	}
	ifVersion, err := versionFlag(cmd, "if-version")
	if err != nil {
		return ops.Conditions{}, err
	}
	return ops.Conditions{Version: version, IfVersion: ifVersion}, nil
}
