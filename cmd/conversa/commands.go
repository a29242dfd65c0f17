package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var (
	baseURL string
	userID  string
	docID   string
	shared  bool
)

var rootCmd = &cobra.Command{
	Use:   "conversa",
	Short: "Operator CLI for the assistant service",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", envOr("ASSISTANT_URL", "http://localhost:8082"),
		"base URL of the assistant service")

	askCmd.Flags().StringVar(&userID, "user", "cli", "user id to converse as")
	ingestCmd.Flags().StringVar(&docID, "id", "", "document id (defaults to the file name)")
	ingestCmd.Flags().StringVar(&userID, "user", "", "owner user id (empty with --shared for global documents)")
	ingestCmd.Flags().BoolVar(&shared, "shared", false, "make the document visible to every user")
	retrieveCmd.Flags().StringVar(&userID, "user", "cli", "user id to retrieve as")

	rootCmd.AddCommand(askCmd, ingestCmd, deleteDocCmd, retrieveCmd, cleanupCmd, statusCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func client() *resty.Client {
	return resty.New().SetBaseURL(baseURL).SetTimeout(2 * time.Minute)
}

// fail prints the API error body when present, then exits.
func fail(err error, resp *resty.Response) {
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	log.Fatalf("request failed: %s: %s", resp.Status(), resp.String())
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var out struct {
			Reply struct {
				Text string `json:"text"`
			} `json:"reply"`
			State      string `json:"state"`
			FastPath   bool   `json:"fast_path"`
			ChunksUsed int    `json:"chunks_used"`
		}
		resp, err := client().R().
			SetBody(map[string]string{"user_id": userID, "text": strings.Join(args, " ")}).
			SetResult(&out).
			Post("/api/v1/messages")
		if err != nil || resp.IsError() {
			fail(err, resp)
		}
		fmt.Println(out.Reply.Text)
		if out.ChunksUsed > 0 {
			fmt.Fprintf(os.Stderr, "(%d context chunks used)\n", out.ChunksUsed)
		}
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a text file into the document index",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		text, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatalf("reading %s: %v", args[0], err)
		}
		id := docID
		if id == "" {
			id = filepath.Base(args[0])
		}
		owner := userID
		if shared {
			owner = ""
		}
		var out struct {
			Chunks   int `json:"chunks"`
			Replaced int `json:"replaced"`
		}
		resp, err := client().R().
			SetBody(map[string]string{"id": id, "user_id": owner, "text": string(text)}).
			SetResult(&out).
			Post("/api/v1/documents")
		if err != nil || resp.IsError() {
			fail(err, resp)
		}
		fmt.Printf("ingested %s: %d chunks (%d replaced)\n", id, out.Chunks, out.Replaced)
	},
}

var deleteDocCmd = &cobra.Command{
	Use:   "delete-doc [document-id]",
	Short: "Remove a document and all its chunks",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var out struct {
			DeletedChunks int `json:"deleted_chunks"`
		}
		resp, err := client().R().
			SetResult(&out).
			Delete("/api/v1/documents/" + args[0])
		if err != nil || resp.IsError() {
			fail(err, resp)
		}
		fmt.Printf("deleted %s: %d chunks removed\n", args[0], out.DeletedChunks)
	},
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Show the chunks retrieval would feed into generation",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var out struct {
			Chunks []struct {
				DocumentID string  `json:"document_id"`
				SeqIndex   int     `json:"seq_index"`
				Score      float64 `json:"score"`
				Text       string  `json:"text"`
			} `json:"chunks"`
		}
		resp, err := client().R().
			SetQueryParam("user_id", userID).
			SetQueryParam("q", strings.Join(args, " ")).
			SetResult(&out).
			Get("/api/v1/retrieve")
		if err != nil || resp.IsError() {
			fail(err, resp)
		}
		if len(out.Chunks) == 0 {
			fmt.Println("no chunks above the similarity floor")
			return
		}
		for i, c := range out.Chunks {
			fmt.Printf("%d. %s#%d (score %.4f)\n   %s\n", i+1, c.DocumentID, c.SeqIndex, c.Score, c.Text)
		}
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one context eviction cycle now",
	Run: func(cmd *cobra.Command, args []string) {
		var out struct {
			Evicted int `json:"evicted"`
		}
		resp, err := client().R().SetResult(&out).Post("/api/v1/contexts/cleanup")
		if err != nil || resp.IsError() {
			fail(err, resp)
		}
		fmt.Printf("evicted %d idle contexts\n", out.Evicted)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show context store and index counters",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := client().R().Get("/api/v1/contexts/status")
		if err != nil || resp.IsError() {
			fail(err, resp)
		}
		var pretty map[string]any
		if err := json.Unmarshal(resp.Body(), &pretty); err != nil {
			fmt.Println(resp.String())
			return
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(pretty)
	},
}
