// Copyright 2025 Parentheses Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEventType EventType = "test.event"

func TestEventBusSubscribePublish(t *testing.T) {
	eb := NewEventBus(nil, nil)
	defer eb.Stop()
	_, evtCh := eb.Subscribe(testEventType)
	eb.Publish(testEventType, NewEvent(testEventType, "hello"))
	select {
	case evt := <-evtCh:
		assert.Equal(t, testEventType, evt.Type)
		assert.Equal(t, "hello", evt.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventBusSubscribeFunc(t *testing.T) {
	eb := NewEventBus(nil, nil)
	defer eb.Stop()
	var got atomic.Int64
	eb.SubscribeFunc(testEventType, func(evt Event) {
		got.Add(1)
	})
	for range 5 {
		eb.Publish(testEventType, NewEvent(testEventType, nil))
	}
	require.Eventually(t, func() bool {
		return got.Load() == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus(nil, nil)
	defer eb.Stop()
	subId, evtCh := eb.Subscribe(testEventType)
	eb.Unsubscribe(testEventType, subId)
	// Channel is closed after unsubscribe
	_, ok := <-evtCh
	assert.False(t, ok)
	// Publishing to a type with no subscribers must not block
	eb.Publish(testEventType, NewEvent(testEventType, nil))
}

func TestEventBusPublishAsync(t *testing.T) {
	eb := NewEventBus(nil, nil)
	var got atomic.Int64
	eb.SubscribeFunc(testEventType, func(evt Event) {
		got.Add(1)
	})
	require.True(t, eb.PublishAsync(testEventType, NewEvent(testEventType, nil)))
	require.Eventually(t, func() bool {
		return got.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	eb.Stop()
	// Publishing after stop is rejected
	assert.False(t, eb.PublishAsync(testEventType, NewEvent(testEventType, nil)))
}

func TestEventBusMetrics(t *testing.T) {
	promRegistry := prometheus.NewRegistry()
	eb := NewEventBus(promRegistry, nil)
	defer eb.Stop()
	_, evtCh := eb.Subscribe(testEventType)
	eb.Publish(testEventType, NewEvent(testEventType, nil))
	<-evtCh
	assert.Equal(t,
		float64(1),
		testutil.ToFloat64(
			eb.metrics.eventsTotal.WithLabelValues(string(testEventType)),
		),
	)
	assert.Equal(t,
		float64(1),
		testutil.ToFloat64(
			eb.metrics.subscribers.WithLabelValues(string(testEventType)),
		),
	)
}
