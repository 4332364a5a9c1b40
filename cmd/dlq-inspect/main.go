package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/leaseline/leasing-ai-platform/cmd/mainconfig"
	appconfig "github.com/leaseline/leasing-ai-platform/internal/config"
	"github.com/leaseline/leasing-ai-platform/internal/queue"
)

// Inspects the dead-letter queue so an operator can see which dispatches gave
// up and why:
//
//	go run ./cmd/dlq-inspect          # peek, leave messages on the queue
//	go run ./cmd/dlq-inspect drain    # print and delete
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	if cfg.DeadLetterQueueURL == "" {
		log.Fatal("DEAD_LETTER_QUEUE_URL is required")
	}
	drain := len(os.Args) > 1 && os.Args[1] == "drain"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("load AWS config: %v", err)
	}
	dlq := queue.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.DeadLetterQueueURL)

	total := 0
	for {
		msgs, err := dlq.Receive(ctx, 10, 2)
		if err != nil {
			log.Fatalf("receive: %v", err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, msg := range msgs {
			total++
			dl, err := queue.DecodeDeadLetter(msg.Body)
			if err != nil {
				fmt.Printf("[%d] undecodable message %s: %v\n", total, msg.ID, err)
			} else {
				fmt.Printf("[%d] %s  platform=%s account=%s message=%s stage=%s kind=%s attempts=%d queued=%s\n",
					total, dl.ID, dl.Platform, dl.AccountID, dl.MessageID, dl.Stage,
					dl.ErrorKind, dl.Attempts, dl.QueuedAt.Format(time.RFC3339))
				if dl.ErrorDetail != "" {
					fmt.Printf("     %s\n", dl.ErrorDetail)
				}
			}
			if drain {
				if err := dlq.Delete(ctx, msg.ReceiptHandle); err != nil {
					log.Fatalf("delete %s: %v", msg.ID, err)
				}
			}
		}
	}

	if total == 0 {
		fmt.Println("dead-letter queue is empty")
		return
	}
	if drain {
		fmt.Printf("drained %d message(s)\n", total)
	} else {
		fmt.Printf("%d message(s) left on the queue\n", total)
	}
}
