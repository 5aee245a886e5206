package notify

import (
	"reflect"
	"testing"
)

func TestHubPublishesInRegistrationOrder(t *testing.T) {
	var hub Hub[int]
	var got []string
	hub.Subscribe(func(v int) { got = append(got, "first") })
	hub.Subscribe(func(v int) { got = append(got, "second") })
	hub.Subscribe(func(v int) { got = append(got, "third") })
	hub.Publish(1)
	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestHubCloseStopsDelivery(t *testing.T) {
	var hub Hub[string]
	calls := 0
	sub := hub.Subscribe(func(string) { calls++ })
	hub.Publish("a")
	sub.Close()
	sub.Close()
	hub.Publish("b")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if hub.Len() != 0 {
		t.Fatalf("expected no live handlers, got %d", hub.Len())
	}
}

func TestHubRemovalDuringPublishSkipsLaterHandler(t *testing.T) {
	var hub Hub[int]
	var second Subscription
	secondCalls := 0
	hub.Subscribe(func(int) { second.Close() })
	second = hub.Subscribe(func(int) { secondCalls++ })
	hub.Publish(1)
	if secondCalls != 0 {
		t.Fatalf("handler removed mid-publish should not run, ran %d times", secondCalls)
	}
}

func TestHubAddDuringPublishWaitsForNextValue(t *testing.T) {
	var hub Hub[int]
	var late []int
	added := false
	hub.Subscribe(func(int) {
		if added {
			return
		}
		added = true
		hub.Subscribe(func(v int) { late = append(late, v) })
	})
	hub.Publish(1)
	hub.Publish(2)
	if !reflect.DeepEqual(late, []int{2}) {
		t.Fatalf("late handler saw %v, want [2]", late)
	}
}

func TestHubIgnoresNilHandler(t *testing.T) {
	var hub Hub[int]
	sub := hub.Subscribe(nil)
	sub.Close()
	if hub.Len() != 0 {
		t.Fatalf("nil handler should not register")
	}
}
