package main

import (
	"domofon/internal/storage"
	"fmt"
	"os"
	"time"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: drafts <db-file>")
		os.Exit(1)
	}

	bbStorage, err := storage.NewBboltStorage(os.Args[1])
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = bbStorage.Close() }()

	drafts, err := bbStorage.ListDrafts()
	if err != nil {
		fmt.Printf("Error listing drafts: %v\n", err)
		os.Exit(1)
	}

	if len(drafts) == 0 {
		fmt.Println("No drafts stored.")
		return
	}

	for _, d := range drafts {
		updated := time.Unix(d.UpdatedAt, 0).Format(time.RFC3339)
		fmt.Printf("%s / %s [%s] updated %s\n", d.UserID, d.ConversationID, d.DraftType, updated)
		if d.Subject != "" {
			fmt.Printf("  subject: %s\n", d.Subject)
		}
		fmt.Printf("  %s\n", d.Content)
	}
}
