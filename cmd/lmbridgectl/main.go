package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lm-remote/LMBridge/internal/config"
	"github.com/lm-remote/LMBridge/internal/loras"
	"github.com/lm-remote/LMBridge/internal/remote"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := strings.ToLower(strings.TrimSpace(os.Args[1]))

	fs := flag.NewFlagSet("lmbridgectl "+cmd, flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to config.yaml")
	jsonOut := fs.Bool("json", false, "Output JSON when applicable")
	checkpoint := fs.Bool("checkpoint", false, "Operate on checkpoints instead of loras")
	count := fs.Int("count", 0, "Fixed draw size (random)")
	seed := fs.Int64("seed", 0, "Random seed (random)")
	index := fs.Int("index", 1, "Current 1-based position (cycle)")
	sortBy := fs.String("sort", "filename", "Sort key (cycle)")
	_ = fs.Parse(os.Args[2:])

	ctx := context.Background()
	cfg, client := load(*configPath)

	switch cmd {
	case "status":
		runStatus(ctx, cfg, client, *jsonOut)
	case "list":
		requireConfigured(client)
		runList(ctx, client, *checkpoint, *jsonOut)
	case "resolve":
		requireConfigured(client)
		runResolve(ctx, client, fs.Args(), *jsonOut)
	case "triggers":
		requireConfigured(client)
		runTriggers(ctx, client, fs.Args(), *jsonOut)
	case "hash":
		requireConfigured(client)
		runHash(ctx, client, fs.Args(), *checkpoint)
	case "random":
		requireConfigured(client)
		runRandom(ctx, client, *count, *seed, *jsonOut)
	case "cycle":
		requireConfigured(client)
		runCycle(ctx, client, *index, *sortBy, *jsonOut)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: lmbridgectl <status|list|resolve|triggers|hash|random|cycle> [flags] [names...]")
	fmt.Fprintln(os.Stderr, "Flags: -config <path> -json -checkpoint -count <n> -seed <n> -index <n> -sort <key>")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func load(configPath string) (*config.Config, *remote.Client) {
	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		fatal(err)
	}
	session := remote.NewSession(cfg.Remote.Timeout())
	return cfg, remote.NewClient(&cfg.Remote, session)
}

func requireConfigured(client *remote.Client) {
	if !client.Configured() {
		fatal(fmt.Errorf("no remote LoRA Manager configured (set remote.base-url or %s)", config.EnvRemoteURL))
	}
}

func runStatus(ctx context.Context, cfg *config.Config, client *remote.Client, jsonOut bool) {
	type statusOutput struct {
		Configured  bool   `json:"configured"`
		RemoteURL   string `json:"remote_url,omitempty"`
		ComfyURL    string `json:"comfy_url"`
		Loras       int    `json:"loras"`
		Checkpoints int    `json:"checkpoints"`
	}
	out := statusOutput{
		Configured: client.Configured(),
		RemoteURL:  client.BaseURL(),
		ComfyURL:   cfg.GetComfyURL(),
	}
	if out.Configured {
		out.Loras = len(client.ListLoras(ctx))
		out.Checkpoints = len(client.ListCheckpoints(ctx))
	}
	if jsonOut {
		printJSON(out)
		return
	}
	if !out.Configured {
		fmt.Println("disabled (no remote LoRA Manager configured)")
		return
	}
	fmt.Printf("remote=%s loras=%d checkpoints=%d\n", out.RemoteURL, out.Loras, out.Checkpoints)
}

func runList(ctx context.Context, client *remote.Client, checkpoints, jsonOut bool) {
	items := client.ListLoras(ctx)
	if checkpoints {
		items = client.ListCheckpoints(ctx)
	}
	if jsonOut {
		printItems(items)
		return
	}
	for _, item := range items {
		fmt.Println(item.Get("file_name").String())
	}
}

func runResolve(ctx context.Context, client *remote.Client, names []string, jsonOut bool) {
	if len(names) == 0 {
		fatal(fmt.Errorf("resolve needs at least one lora name"))
	}
	type resolved struct {
		Name         string   `json:"name"`
		Resolved     string   `json:"resolved"`
		TriggerWords []string `json:"trigger_words"`
	}
	out := make([]resolved, 0, len(names))
	for _, name := range names {
		path, words := client.ResolveLora(ctx, name)
		out = append(out, resolved{Name: name, Resolved: path, TriggerWords: words})
	}
	if jsonOut {
		printJSON(out)
		return
	}
	for _, r := range out {
		fmt.Printf("%s -> %s [%s]\n", r.Name, r.Resolved, strings.Join(r.TriggerWords, ", "))
	}
}

func runTriggers(ctx context.Context, client *remote.Client, names []string, jsonOut bool) {
	if len(names) == 0 {
		fatal(fmt.Errorf("triggers needs at least one lora name"))
	}
	var words []string
	for _, name := range names {
		_, found := client.ResolveLora(ctx, name)
		words = append(words, found...)
	}
	message := loras.JoinTriggerWords(words)
	if jsonOut {
		printJSON(map[string]string{"message": message})
		return
	}
	fmt.Println(message)
}

func runHash(ctx context.Context, client *remote.Client, names []string, checkpoints bool) {
	if len(names) == 0 {
		fatal(fmt.Errorf("hash needs at least one model name"))
	}
	for _, name := range names {
		hash := client.LoraHash(ctx, name)
		if checkpoints {
			hash = client.CheckpointHash(ctx, name)
		}
		if hash == "" {
			fmt.Fprintf(os.Stderr, "no hash for %q\n", name)
			continue
		}
		fmt.Printf("%s  %s\n", hash, name)
	}
}

func runRandom(ctx context.Context, client *remote.Client, count int, seed int64, jsonOut bool) {
	req := loras.DefaultSampleRequest()
	if count > 0 {
		req.Count = count
		req.CountMode = "fixed"
	}
	req.Seed = seed
	payload, err := req.Payload()
	if err != nil {
		fatal(err)
	}
	items := client.RandomSample(ctx, payload)
	if jsonOut {
		printItems(items)
		return
	}
	for _, item := range items {
		fmt.Println(item.Get("file_name").String())
	}
}

func runCycle(ctx context.Context, client *remote.Client, index int, sortBy string, jsonOut bool) {
	items := client.CyclerList(ctx, nil, sortBy)
	current, next := loras.Cycle(len(items), index)
	if current == 0 {
		fatal(fmt.Errorf("cycler pool is empty"))
	}
	name := items[current-1].Get("file_name").String()
	if jsonOut {
		printJSON(map[string]any{
			"total":     len(items),
			"current":   current,
			"next":      next,
			"file_name": name,
		})
		return
	}
	fmt.Printf("%d/%d %s (next %d)\n", current, len(items), name, next)
}

func printItems(items []gjson.Result) {
	raws := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		raws = append(raws, json.RawMessage(item.Raw))
	}
	printJSON(raws)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(data))
}
