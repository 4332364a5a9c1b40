package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joho/godotenv"

	"github.com/leaseline/leasing-ai-platform/cmd/mainconfig"
	appconfig "github.com/leaseline/leasing-ai-platform/internal/config"
	"github.com/leaseline/leasing-ai-platform/internal/intent"
	"github.com/leaseline/leasing-ai-platform/internal/llm"
)

// Smoke-tests the Bedrock intent classifier against a few sample leads:
//
//	go run ./cmd/llmtest "Can I see the unit on Saturday?"
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	if cfg.BedrockModelID == "" {
		log.Fatal("BEDROCK_MODEL_ID is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("load AWS config: %v", err)
	}

	client := llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsConfig))
	classifier := llm.NewIntentClassifier(client, cfg.BedrockModelID)

	samples := []string{
		"Hi, is the 2BR still available? Could we set up a tour this weekend?",
		"What's the monthly rent and is parking included?",
		"Please stop contacting me.",
	}
	if len(os.Args) > 1 {
		samples = []string{strings.Join(os.Args[1:], " ")}
	}

	for i, body := range samples {
		fmt.Printf("[%d] %q\n", i+1, body)
		start := time.Now()
		decision, err := classifier.ClassifyMessage(ctx, body, intent.All)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Printf("    error (%v): %v\n", elapsed.Round(time.Millisecond), err)
			continue
		}
		fmt.Printf("    intent=%s ambiguous=%t (%v)\n",
			decision.Intent, decision.Ambiguous, elapsed.Round(time.Millisecond))
		if decision.SuggestedReply != "" {
			fmt.Printf("    suggested: %s\n", decision.SuggestedReply)
		}
	}
}
