package transport

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHubPublishDeliversToRegisteredSubscriber(t *testing.T) {
	hub := NewHub()
	sub := hub.Register()
	defer hub.Unregister(sub)

	hub.Publish(ChannelUpdate, Update{Type: "node_update", Removed: []string{}})

	select {
	case frame := <-sub.Send():
		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Channel != ChannelUpdate {
			t.Errorf("expected channel %s, got %s", ChannelUpdate, msg.Channel)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestHubPublishFansOutToAllSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Register()
	b := hub.Register()
	defer hub.Unregister(a)
	defer hub.Unregister(b)

	hub.Publish(ChannelFullState, FullState{Type: "full_state"})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case <-sub.Send():
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for fan-out delivery")
		}
	}
}

func TestHubPublishDropsWhenSubscriberBufferIsFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Register()
	defer hub.Unregister(sub)

	for i := 0; i < subscriberBufSize+10; i++ {
		hub.Publish(ChannelPacket, i)
	}

	_, dropped := hub.Stats()
	if dropped == 0 {
		t.Error("expected drops once the subscriber buffer filled")
	}
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Register()
	hub.Unregister(sub)

	_, ok := <-sub.Send()
	if ok {
		t.Error("expected send channel to be closed after unregister")
	}
}

func TestHubHandleRequestWithoutHandlerReturnsError(t *testing.T) {
	hub := NewHub()
	resp := hub.HandleRequest(Request{ID: "1", Channel: ChannelOSStatus})
	if resp.Error == "" {
		t.Error("expected an error response when no handler is registered")
	}
}

func TestHubHandleRequestDispatchesToRegisteredHandler(t *testing.T) {
	hub := NewHub()
	hub.SetRequestHandler(func(req Request) Response {
		return Response{ID: req.ID, Channel: req.Channel, Payload: map[string]bool{"available": true}}
	})

	resp := hub.HandleRequest(Request{ID: "abc", Channel: ChannelOSStatus})
	if resp.ID != "abc" || resp.Error != "" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHubHandleRequestRecoversFromPanickingHandler(t *testing.T) {
	hub := NewHub()
	hub.SetRequestHandler(func(req Request) Response {
		panic("boom")
	})

	resp := hub.HandleRequest(Request{ID: "1", Channel: ChannelScanNow})
	if resp.Error == "" {
		t.Error("expected an error response recovered from the panicking handler")
	}
}

func TestHubSubscriberCountReflectsRegistrations(t *testing.T) {
	hub := NewHub()
	if hub.SubscriberCount() != 0 {
		t.Fatal("expected zero subscribers initially")
	}
	sub := hub.Register()
	if hub.SubscriberCount() != 1 {
		t.Error("expected one subscriber after register")
	}
	hub.Unregister(sub)
	if hub.SubscriberCount() != 0 {
		t.Error("expected zero subscribers after unregister")
	}
}
