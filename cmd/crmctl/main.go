package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/PastorStudio/geminiaicrm-sub003/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "agents":
		cmdAgents()
	case "status":
		cmdStatus()
	case "activate":
		cmdActivate(os.Args[2:])
	case "deactivate":
		cmdDeactivate(os.Args[2:])
	case "set":
		cmdSet(os.Args[2:])
	case "assign":
		cmdAssign(os.Args[2:])
	case "close":
		cmdClose(os.Args[2:])
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: crmctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- Commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(body))
}

func cmdAgents() {
	body, err := apiGet("/api/agents")
	if err != nil {
		fatal(err)
	}
	var agents []map[string]any
	json.Unmarshal(body, &agents)
	for _, a := range agents {
		fmt.Printf("%-12s %-20s %-10s chats=%v\n", a["id"], a["displayName"], a["status"], a["activeChats"])
	}
}

func cmdStatus() {
	body, err := apiGet("/api/auto-response/status")
	if err != nil {
		fatal(err)
	}
	var resp struct {
		Accounts []map[string]any `json:"accounts"`
	}
	json.Unmarshal(body, &resp)
	for _, a := range resp.Accounts {
		fmt.Printf("account=%v enabled=%v responder=%v delay=%vs\n",
			a["accountId"], a["enabled"], a["responderId"], a["delaySeconds"])
	}
}

func cmdActivate(args []string) {
	fs := flag.NewFlagSet("activate", flag.ExitOnError)
	account := fs.Int64("account", 0, "Account ID")
	responderID := fs.String("responder", "", "Responder ID")
	delay := fs.Int("delay", 0, "Response delay in seconds")
	fs.Parse(args)

	if *account == 0 || *responderID == "" {
		fmt.Fprintln(os.Stderr, "usage: crmctl activate --account <id> --responder <id> [--delay <s>]")
		os.Exit(1)
	}

	body, err := apiPost(fmt.Sprintf("/api/auto-response/activate/%d", *account),
		map[string]any{"responderId": *responderID, "delaySeconds": *delay})
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdDeactivate(args []string) {
	fs := flag.NewFlagSet("deactivate", flag.ExitOnError)
	account := fs.Int64("account", 0, "Account ID")
	fs.Parse(args)

	if *account == 0 {
		fmt.Fprintln(os.Stderr, "usage: crmctl deactivate --account <id>")
		os.Exit(1)
	}

	body, err := apiPost(fmt.Sprintf("/api/auto-response/deactivate/%d", *account), map[string]any{})
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(body))
}

func cmdSet(args []string) {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	account := fs.Int64("account", 0, "Account ID")
	responderID := fs.String("responder", "", "Responder ID")
	delay := fs.Int("delay", 0, "Response delay in seconds")
	fallback := fs.String("fallback", "", "Fallback message sent after retry exhaustion")
	fs.Parse(args)

	if *account == 0 {
		fmt.Fprintln(os.Stderr, "usage: crmctl set --account <id> [--responder <id>] [--delay <s>] [--fallback <text>]")
		os.Exit(1)
	}

	patch := map[string]any{}
	if *responderID != "" {
		patch["responderId"] = *responderID
	}
	if *delay > 0 {
		patch["delaySeconds"] = *delay
	}
	if *fallback != "" {
		patch["fallbackMessage"] = *fallback
	}

	body, err := apiPatch(fmt.Sprintf("/api/auto-response/config/%d", *account), patch)
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdAssign(args []string) {
	fs := flag.NewFlagSet("assign", flag.ExitOnError)
	chat := fs.String("chat", "", "Chat ID")
	account := fs.Int64("account", 0, "Account ID")
	agent := fs.String("agent", "", "Agent ID (omit for auto-assignment)")
	by := fs.String("by", "", "Assigning operator ID")
	category := fs.String("category", "", "Assignment category")
	notes := fs.String("notes", "", "Assignment notes")
	force := fs.Bool("force", false, "Transfer an existing active assignment")
	fs.Parse(args)

	if *chat == "" || *account == 0 {
		fmt.Fprintln(os.Stderr, "usage: crmctl assign --chat <id> --account <id> [--agent <id>] [--force]")
		os.Exit(1)
	}

	body, err := apiPost("/api/assignments", map[string]any{
		"chatId":        *chat,
		"accountId":     *account,
		"agentId":       *agent,
		"assignedBy":    *by,
		"category":      *category,
		"notes":         *notes,
		"forceReassign": *force,
	})
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdClose(args []string) {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	chat := fs.String("chat", "", "Chat ID")
	account := fs.Int64("account", 0, "Account ID")
	notes := fs.String("notes", "", "Closing notes")
	fs.Parse(args)

	if *chat == "" || *account == 0 {
		fmt.Fprintln(os.Stderr, "usage: crmctl close --chat <id> --account <id> [--notes <text>]")
		os.Exit(1)
	}

	body, err := apiPost("/api/assignments/"+*chat+"/close",
		map[string]any{"accountId": *account, "notes": *notes})
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(body))
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (debug|info|warn|error)")
	limit := fs.Int("limit", 50, "Max entries")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *level != "" {
		query += "&level=" + *level
	}

	body, err := apiGet("/api/logs" + query)
	if err != nil {
		fatal(err)
	}
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%-24v %-5v %-10v %v\n", e["time"], e["level"], e["component"], e["message"])
	}
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func apiGet(path string) ([]byte, error) {
	return apiDo("GET", path, nil)
}

func apiPost(path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return apiDo("POST", path, bytes.NewReader(data))
}

func apiPatch(path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return apiDo("PATCH", path, bytes.NewReader(data))
}

func apiDo(method, path string, body io.Reader) ([]byte, error) {
	base := envOr("CRM_API_URL", "http://localhost:8080")

	req, err := http.NewRequest(method, base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("CRM_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("crmctl — CRM daemon management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health               Check daemon health")
	fmt.Println("  agents               List agents with active chat counts")
	fmt.Println("  status               Show per-account auto-response status")
	fmt.Println("  activate             Enable auto-response (--account, --responder, --delay)")
	fmt.Println("  deactivate           Disable auto-response (--account)")
	fmt.Println("  set                  Patch account config (--account, --responder, --delay, --fallback)")
	fmt.Println("  assign               Assign a chat (--chat, --account, --agent, --force)")
	fmt.Println("  close                Close a chat assignment (--chat, --account)")
	fmt.Println("  logs                 Tail recent daemon logs (--level, --limit)")
	fmt.Println("  config validate <p>  Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  CRM_API_URL  Daemon URL (default: http://localhost:8080)")
	fmt.Println("  CRM_API_KEY  API key for authentication")
}
