package orchestrator

import (
	"context"

	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/llm/gateway"
)

// gatewayAdapter lifts *gateway.Client onto the Gateway interface; the
// concrete Stream return type needs rewrapping as CompletionStream.
type gatewayAdapter struct {
	client *gateway.Client
}

// NewGateway adapts a gateway client for use as the orchestrator's Gateway.
func NewGateway(client *gateway.Client) Gateway {
	return gatewayAdapter{client: client}
}

func (g gatewayAdapter) Complete(ctx context.Context, msgs []llm.Message, tools []llm.ToolDescriptor) (*llm.Message, error) {
	return g.client.Complete(ctx, msgs, tools)
}

func (g gatewayAdapter) Stream(ctx context.Context, msgs []llm.Message, tools []llm.ToolDescriptor) (CompletionStream, error) {
	stream, err := g.client.Stream(ctx, msgs, tools)
	if err != nil {
		return nil, err
	}

	return stream, nil
}
