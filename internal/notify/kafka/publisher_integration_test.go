//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"residuechain/internal/notify"
	"residuechain/internal/notify/kafka"
	id "residuechain/pkg/domain"
	"residuechain/pkg/testutil/containers"
)

func TestPublisher_RoundTrip(t *testing.T) {
	rp := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "residuechain.notifications.test"

	admClient, err := kgo.NewClient(kgo.SeedBrokers(rp.Brokers...))
	require.NoError(t, err)
	defer admClient.Close()
	adm := kadm.NewClient(admClient)
	created, err := adm.CreateTopics(ctx, 1, 1, nil, topic)
	require.NoError(t, err)
	for _, resp := range created.Sorted() {
		require.NoError(t, resp.Err)
	}

	pub, err := kafka.NewPublisher(rp.Brokers, topic)
	require.NoError(t, err)
	defer pub.Close()

	sent := notify.Notification{
		UserID:          id.UserID(uuid.New()),
		Category:        notify.CategoryAlert,
		Subtype:         notify.SubtypeUnsafeResidue,
		Message:         "unsafe residue detected",
		SampleRequestID: id.NewSampleRequestID(),
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, pub.Publish(ctx, sent))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)

	assert.Equal(t, sent.UserID.String(), string(records[0].Key))

	var got notify.Notification
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	assert.Equal(t, sent.UserID, got.UserID)
	assert.Equal(t, sent.Subtype, got.Subtype)
	assert.Equal(t, sent.Message, got.Message)
	assert.Equal(t, sent.SampleRequestID, got.SampleRequestID)
}

func TestPublisher_KeysByRecipient(t *testing.T) {
	rp := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "residuechain.notifications.keys"
	pub, err := kafka.NewPublisher(rp.Brokers, topic)
	require.NoError(t, err)
	defer pub.Close()

	user := id.UserID(uuid.New())
	for i := 0; i < 3; i++ {
		require.NoError(t, pub.Publish(ctx, notify.Notification{
			UserID:   user,
			Category: notify.CategoryReminder,
			Subtype:  notify.SubtypeCollectionDue,
			Message:  "collection due",
		}))
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var records []*kgo.Record
	for len(records) < 3 {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, fetches.Err())
		records = append(records, fetches.Records()...)
	}
	for _, rec := range records {
		assert.Equal(t, user.String(), string(rec.Key))
	}
}
