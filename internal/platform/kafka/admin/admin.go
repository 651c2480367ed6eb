package admin

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// VerifyTopics confirms all given topics exist on the cluster. Topic creation
// is an external provisioning concern; this is the startup precondition that
// keeps the service from consuming or publishing into the void.
func VerifyTopics(ctx context.Context, client *kgo.Client, topics ...string) error {
	adm := kadm.NewClient(client)

	details, err := adm.ListTopics(ctx, topics...)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	for _, topic := range topics {
		if !details.Has(topic) {
			return fmt.Errorf("required topic %s does not exist", topic)
		}
	}
	return nil
}
