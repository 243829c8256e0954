package cmd

import (
	"fmt"
	"strconv"
	"time"

	"go-retry/internal/kafka"
	"go-retry/internal/observability"
	"go-retry/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	produceTopic         string
	produceOriginalTopic string
	produceKey           string
	produceMessage       string
	produceRetryCount    int
	produceCount         int
)

var produceCmd = &cobra.Command{
	Use:   "produce",
	Short: "Publish sample failed messages onto a retry topic",
	Long: `Publish messages the way a failing service would hand them to the retry
worker: onto a retry topic with the x-original-topic header set.

Examples:
  retryworker produce --original-topic orders
  retryworker produce --original-topic orders -n 10 --retry-count 2
  retryworker produce --original-topic "" -m '{"id":1}'   # dead-letters immediately`,
	Args: cobra.NoArgs,
	RunE: runProduce,
}

func init() {
	produceCmd.Flags().StringVarP(&produceTopic, "topic", "t", "", "Retry topic (default: first of KAFKA_RETRY_TOPICS)")
	produceCmd.Flags().StringVar(&produceOriginalTopic, "original-topic", "Order", "Value of x-original-topic, empty omits the header")
	produceCmd.Flags().StringVarP(&produceKey, "key", "k", "", "Message key (default: a random UUID per message)")
	produceCmd.Flags().StringVarP(&produceMessage, "message", "m", "", "Message value (default: a sample order event)")
	produceCmd.Flags().IntVar(&produceRetryCount, "retry-count", 0, "Value of x-retry-count")
	produceCmd.Flags().IntVarP(&produceCount, "count", "n", 1, "Number of messages")
}

func runProduce(cmd *cobra.Command, _ []string) error {
	topic := produceTopic
	if topic == "" {
		topic = cfg.Consumer.Topics[0]
	}
	logger := observability.GetLogger()

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:     cfg.Kafka.Brokers,
		Acks:        cfg.Producer.Acks,
		Retries:     cfg.Producer.Retries,
		MaxRetries:  5,
		BaseBackoff: time.Second,
		Logger:      logger,
	})
	defer producer.Close()

	for i := 0; i < produceCount; i++ {
		key := produceKey
		if key == "" {
			key = uuid.NewString()
		}
		value := produceMessage
		if value == "" {
			value = sampleOrder(key)
		}

		headers := models.Headers{{Key: models.HeaderRetryCount, Value: strconv.Itoa(produceRetryCount)}}
		if produceOriginalTopic != "" {
			headers = headers.With(models.HeaderOriginalTopic, produceOriginalTopic)
		}
		headers = headers.With(models.HeaderForwardedAt, strconv.FormatInt(time.Now().UnixMilli(), 10))

		if err := producer.Publish(cmd.Context(), topic, []byte(key), []byte(value), headers); err != nil {
			return fmt.Errorf("publish message %d: %w", i+1, err)
		}
		logger.WithFields(logrus.Fields{"topic": topic, "key": key}).Info("Sent message to kafka")
	}
	return nil
}

func sampleOrder(key string) string {
	return fmt.Sprintf(`{"event_type":"order_created","order_id":%q,"customer_id":"CUST-567890",`+
		`"items":[{"product_id":"PROD-111","quantity":1,"price":42900.00}],`+
		`"total_amount":"42900.00","currency":"THB","status":"pending"}`, key)
}
