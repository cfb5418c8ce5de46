// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/rp66/dlis"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	all        bool
	fileHeader bool
	origins    bool
	channels   bool
	frames     bool
	escapeFlag string
	batchFile  string
)

func prettyPrint(v any) string {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buf, "", "\t"); err != nil {
		return string(buf)
	}
	return pretty.String()
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// batchConfig is an optional YAML file naming a default escape level and
// per-file escape-level overrides, for callers who'd rather not repeat
// the same cobra flags across a fleet of files. Its fields list is parsed
// but does not select what dumpFile prints; the cobra flags do that.
type batchConfig struct {
	EscapeLevel string            `yaml:"escape_level"`
	Fields      []string          `yaml:"fields"`
	Overrides   map[string]string `yaml:"overrides"`
}

func loadBatchConfig(path string) (*batchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg batchConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing batch config: %w", err)
	}
	return &cfg, nil
}

func dumpFile(filename string, cmd *cobra.Command) {
	log.Printf("processing %s", filename)

	escape := escapeFlag
	if batchFile != "" {
		cfg, err := loadBatchConfig(batchFile)
		if err != nil {
			log.Printf("batch config: %v", err)
		} else if override, ok := cfg.Overrides[filename]; ok {
			escape = override
		} else if cfg.EscapeLevel != "" && escape == "" {
			escape = cfg.EscapeLevel
		}
	}

	pf, err := dlis.Load(filename, &dlis.LoaderOptions{EscapeLevel: escape})
	if err != nil {
		log.Printf("error opening %s: %v", filename, err)
		return
	}
	defer pf.Close()

	for i, lf := range pf.Files {
		log.Printf("logical file %d: %d origins, %d channels, %d frames",
			i, len(lf.Origins()), len(lf.Channels()), len(lf.Frames()))

		wantFH, _ := cmd.Flags().GetBool("fileheader")
		if wantFH || all {
			fmt.Println(prettyPrint(lf.FileHeader()))
		}
		wantOrigins, _ := cmd.Flags().GetBool("origins")
		if wantOrigins || all {
			fmt.Println(prettyPrint(lf.Origins()))
		}
		wantChannels, _ := cmd.Flags().GetBool("channels")
		if wantChannels || all {
			fmt.Println(prettyPrint(lf.Channels()))
		}
		wantFrames, _ := cmd.Flags().GetBool("frames")
		if wantFrames || all {
			fmt.Println(prettyPrint(lf.Frames()))
		}
		for _, f := range lf.Faults() {
			log.Printf("fault: %s", f)
		}
	}
}

func dump(cmd *cobra.Command, args []string) {
	path := args[0]
	if !isDirectory(path) {
		dumpFile(path, cmd)
		return
	}

	var files []string
	filepath.Walk(path, func(p string, f os.FileInfo, err error) error {
		if err == nil && !f.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	for _, f := range files {
		dumpFile(f, cmd)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "dlisdump",
		Short: "A DLIS (RP66 V1) file reader",
		Long:  "Reads Digital Log Interchange Standard files and prints their metadata",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("dlisdump 0.1.0")
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Dumps a DLIS file",
		Long:  "Dumps logical file metadata from a DLIS file or a directory of them",
		Args:  cobra.MinimumNArgs(1),
		Run:   dump,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().BoolVarP(&fileHeader, "fileheader", "", false, "Dump the FILE-HEADER record")
	dumpCmd.Flags().BoolVarP(&origins, "origins", "", false, "Dump ORIGIN objects")
	dumpCmd.Flags().BoolVarP(&channels, "channels", "", false, "Dump CHANNEL objects")
	dumpCmd.Flags().BoolVarP(&frames, "frames", "", false, "Dump FRAME objects")
	dumpCmd.Flags().BoolVarP(&all, "all", "", false, "Dump everything")
	dumpCmd.Flags().StringVarP(&escapeFlag, "escape-level", "", "", "Escape level: debug, info, warning, error, critical")
	dumpCmd.Flags().StringVarP(&batchFile, "batch-config", "", "", "YAML file naming per-file escape-level overrides")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
