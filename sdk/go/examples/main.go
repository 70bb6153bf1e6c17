package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"ArcFlow/sdk/go/arcflow"
)

// 演示如何通过 SDK 走完一次完整的采购流程：编排、结算、查历史。
func main() {
	client := arcflow.NewClient("http://127.0.0.1:8080", nil)
	client.SetAPIKey(os.Getenv("ARCFLOW_API_KEY"))

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	resp, err := client.Orchestrate(ctx, arcflow.OrchestrateRequest{
		Prompt:   "I need snacks and badges for a 50 person hackathon",
		Budget:   100,
		Strategy: "cheapest",
	})
	if err != nil {
		log.Fatalf("orchestrate failed: %v", err)
	}
	fmt.Printf("categories: %v, total: $%.2f\n", resp.Categories, resp.TotalCost)

	lines := make([]arcflow.SettleLine, 0, len(resp.Options))
	for _, option := range resp.Options {
		lines = append(lines, arcflow.SettleLine{
			VendorID: option.VendorID,
			Price:    option.Price,
			Name:     option.Name,
		})
	}

	receipt, err := client.Settle(ctx, lines)
	if err != nil {
		log.Fatalf("settle failed: %v", err)
	}
	fmt.Printf("settlement %s (%s): %d transfers\n", receipt.Status, receipt.Mode, len(receipt.TransactionIDs))

	records, err := client.History(ctx, 5)
	if err != nil {
		log.Fatalf("history failed: %v", err)
	}
	for _, record := range records {
		fmt.Printf("%s %s %s $%.2f\n", record.EventID, record.Kind, record.Status, record.Total)
	}
}
