package gateway

import (
	"wa-gateway/go-backend/internal/webhook"
)

// AddEndpoint registers ep with the dispatcher. Endpoints without an OnError
// callback report exhausted deliveries through the gateway log.
func (g *Gateway) AddEndpoint(ep webhook.Endpoint) (webhook.Endpoint, error) {
	if ep.OnError == nil {
		ep.OnError = g.reportDeliveryError
	}
	added, err := g.dispatcher.AddEndpoint(ep)
	if err != nil {
		return webhook.Endpoint{}, err
	}
	g.logInfo("webhook.add", added.ID, "webhook endpoint registered", "events", added.Events)
	return added, nil
}

func (g *Gateway) RemoveEndpoint(id string) error {
	if err := g.dispatcher.RemoveEndpoint(id); err != nil {
		return err
	}
	g.logInfo("webhook.remove", id, "webhook endpoint removed")
	return nil
}

func (g *Gateway) Endpoints() []webhook.Endpoint {
	return g.dispatcher.Endpoints()
}

func (g *Gateway) reportDeliveryError(derr *webhook.DeliveryError) {
	g.recordErrorWithContext(categoryWebhook, derr, "webhook.deliver", derr.EndpointID,
		"event", derr.EventKind,
		"attempts", derr.Attempts,
	)
}
