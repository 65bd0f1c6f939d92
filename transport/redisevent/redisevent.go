// Package redisevent implements transport.EventTransport on top of Redis
// streams, using consumer groups keyed by listener_name so that restarting
// a listener resumes from where it left off instead of replaying or
// dropping events.
//
// Client construction follows the options-struct style common to Redis
// client wrappers; the read loop follows the usual per-connection-goroutine
// consume shape, one goroutine per active listener.
package redisevent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gobus/message"
	"gobus/transport"
)

// Options configures a Transport.
type Options struct {
	Addr     string
	Password string
	DB       int
	// BlockTimeout bounds a single XReadGroup call; defaults to 5s.
	BlockTimeout time.Duration
}

// Transport is a transport.EventTransport backed by Redis streams.
type Transport struct {
	client *redis.Client
	opts   Options
}

// New constructs a Transport and verifies connectivity with a ping.
func New(opts Options) (*Transport, error) {
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisevent: ping failed: %w", err)
	}
	return &Transport{client: client, opts: opts}, nil
}

func (t *Transport) Open(context.Context) error  { return nil }
func (t *Transport) Close(context.Context) error { return t.client.Close() }

func streamKey(apiName, eventName string) string {
	return "gobus:event:" + apiName + ":" + eventName
}

// SendEvent appends the event to its stream with an "id" field holding the
// message ID and a "payload" field holding the JSON-encoded kwargs.
func (t *Transport) SendEvent(ctx context.Context, msg *message.EventMessage, _ transport.CallOptions) error {
	payload, err := json.Marshal(msg.Kwargs)
	if err != nil {
		return fmt.Errorf("redisevent: marshal kwargs: %w", err)
	}
	return t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(msg.APIName, msg.EventName),
		Values: map[string]any{
			"id":      msg.ID.String(),
			"payload": payload,
		},
	}).Err()
}

// ConsumeEvents reads from every selected event's stream under a consumer
// group named listenerName, acking each message once it has been handed to
// the returned channel.
func (t *Transport) ConsumeEvents(ctx context.Context, events []transport.EventSelector, listenerName string, _ transport.CallOptions) (<-chan *message.EventMessage, error) {
	streams := make([]string, 0, len(events))
	for _, ev := range events {
		key := streamKey(ev.APIName, ev.EventName)
		streams = append(streams, key)
		err := t.client.XGroupCreateMkStream(ctx, key, listenerName, "$").Err()
		if err != nil && !isBusyGroupErr(err) {
			return nil, fmt.Errorf("redisevent: create group for %s: %w", key, err)
		}
	}

	out := make(chan *message.EventMessage, 16)
	keyToSelector := make(map[string]transport.EventSelector, len(events))
	for _, ev := range events {
		keyToSelector[streamKey(ev.APIName, ev.EventName)] = ev
	}

	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			res, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    listenerName,
				Consumer: listenerName,
				Streams:  args,
				Block:    t.opts.BlockTimeout,
				Count:    32,
			}).Result()
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				return
			}

			for _, stream := range res {
				sel := keyToSelector[stream.Stream]
				for _, entry := range stream.Messages {
					evtMsg := decodeEntry(sel, entry)
					if evtMsg != nil {
						select {
						case out <- evtMsg:
						case <-ctx.Done():
							return
						}
					}
					t.client.XAck(ctx, stream.Stream, listenerName, entry.ID)
				}
			}
		}
	}()

	return out, nil
}

func decodeEntry(sel transport.EventSelector, entry redis.XMessage) *message.EventMessage {
	payloadRaw, _ := entry.Values["payload"].(string)
	var kwargs map[string]any
	if payloadRaw != "" {
		_ = json.Unmarshal([]byte(payloadRaw), &kwargs)
	}
	msg := message.NewEventMessage(sel.APIName, sel.EventName, kwargs)
	return msg
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}
