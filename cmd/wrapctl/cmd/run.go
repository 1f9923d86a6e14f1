package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/aescanero/dago-wrap/internal/application/orchestrator"
	"github.com/aescanero/dago-wrap/pkg/adapters/llm"
	"github.com/aescanero/dago-wrap/pkg/controls"
	"github.com/aescanero/dago-wrap/pkg/manifest"
	"github.com/aescanero/dago-wrap/pkg/wrap"
	"github.com/olekukonko/tablewriter"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type runOptions struct {
	seed           string
	seedFile       string
	events         bool
	timeout        time.Duration
	controlTimeout time.Duration
	scriptTimeout  time.Duration
	maxParallel    int
}

func newRunCommand(opts *options) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Run a wrap manifest locally",
		Long: `Build the wrap described by a manifest file and perform one load pass in
process. The accumulated content is printed when the pass succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifest(cmd, opts, ro, args[0])
		},
	}

	cmd.Flags().StringVar(&ro.seed, "seed", "", "seed content as a JSON object")
	cmd.Flags().StringVar(&ro.seedFile, "seed-file", "", "file holding the seed content as a JSON object")
	cmd.Flags().BoolVar(&ro.events, "events", false, "print lifecycle events to stderr")
	cmd.Flags().DurationVar(&ro.timeout, "timeout", 5*time.Minute, "timeout for the whole pass")
	cmd.Flags().DurationVar(&ro.controlTimeout, "control-timeout", 30*time.Second, "timeout for each control")
	cmd.Flags().DurationVar(&ro.scriptTimeout, "script-timeout", 5*time.Second, "timeout for each script control")
	cmd.Flags().IntVar(&ro.maxParallel, "max-parallel", 0, "parallel controls running at once, 0 for no limit")

	return cmd
}

func runManifest(cmd *cobra.Command, opts *options, ro *runOptions, path string) error {
	seed, err := readSeed(ro)
	if err != nil {
		return err
	}

	m, err := manifest.LoadFile(path)
	if err != nil {
		return err
	}
	if err := orchestrator.NewValidator().Validate(m); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	logger := opts.logger()
	defer func() { _ = logger.Sync() }()

	var reader controls.RedisReader
	if addr := opts.v.GetString("redis_addr"); addr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: addr})
		defer func() { _ = client.Close() }()
		reader = client
	}

	var completer controls.Completer
	if key := opts.v.GetString("llm_api_key"); key != "" {
		completer, err = llm.NewCompleter(&llm.Config{Provider: "anthropic", APIKey: key, Logger: logger})
		if err != nil {
			return err
		}
	}

	node, err := manifest.Build(m, controls.NewFactory(reader, completer, ro.scriptTimeout, logger),
		wrap.WithLogger(logger),
		wrap.WithControlTimeout(ro.controlTimeout),
		wrap.WithMaxParallel(ro.maxParallel),
	)
	if err != nil {
		return err
	}

	if ro.events {
		node.OnAny(printEvent(cmd.ErrOrStderr()))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), ro.timeout)
	defer cancel()

	content, err := node.Run(ctx, seed)
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}

	return printContent(cmd.OutOrStdout(), opts.jsonOutput(), content.Snapshot())
}

func readSeed(ro *runOptions) (map[string]interface{}, error) {
	data := []byte(ro.seed)
	if ro.seedFile != "" {
		if ro.seed != "" {
			return nil, fmt.Errorf("--seed and --seed-file are mutually exclusive")
		}
		var err error
		data, err = os.ReadFile(ro.seedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed file: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, nil
	}

	var seed map[string]interface{}
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("seed must be a JSON object: %w", err)
	}
	return seed, nil
}

func printEvent(w io.Writer) wrap.Listener {
	return func(_ context.Context, e wrap.Event) {
		switch {
		case e.Err != nil:
			fmt.Fprintf(w, "%s: %v\n", e.Type, e.Err)
		case e.Key != "":
			fmt.Fprintf(w, "%s %s\n", e.Type, e.Key)
		default:
			fmt.Fprintln(w, e.Type)
		}
	}
}

func printContent(w io.Writer, asJSON bool, content map[string]interface{}) error {
	if asJSON {
		return writeJSON(w, content)
	}

	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.Header("Key", "Value")
	for _, k := range keys {
		if err := table.Append(k, formatValue(content[k])); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
