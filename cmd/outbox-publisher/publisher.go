package main

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// orderedPublisher resumes an ordering key after a failed publish, otherwise
// Pub/Sub rejects every later message for that family.
type orderedPublisher struct {
	pub *gcppubsub.Publisher
}

func newOrderedPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	return &orderedPublisher{pub: p}
}

func (p *orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &orderedResult{
		res: p.pub.Publish(ctx, msg),
		resume: func() {
			if msg.OrderingKey != "" {
				p.pub.ResumePublish(msg.OrderingKey)
			}
		},
	}
}

type orderedResult struct {
	res    *gcppubsub.PublishResult
	resume func()
}

func (r *orderedResult) Get(ctx context.Context) (string, error) {
	if r.res == nil {
		return "", errors.New("publish result is nil")
	}
	id, err := r.res.Get(ctx)
	if err != nil {
		r.resume()
	}
	return id, err
}
