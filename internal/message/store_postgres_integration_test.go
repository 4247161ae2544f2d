//go:build integration

package message_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"sealwire/internal/domain"
	"sealwire/internal/message"
	"sealwire/pkg/platform/sentinel"
	"sealwire/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *message.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = message.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "messages"))
}

func (s *PostgresStoreSuite) outbound(recipient domain.Permalink, seq uint64, t int64) *domain.Message {
	return &domain.Message{
		Type:      domain.TypeMessage,
		Seq:       seq,
		Time:      t,
		Recipient: recipient,
		Link:      domain.Link(fmt.Sprintf("link-out-%s-%d", recipient, seq)),
		Object: &domain.SignedObject{
			Raw:  []byte(`{"_t":"kyc.Document"}`),
			Link: domain.Link(fmt.Sprintf("payload-%s-%d", recipient, seq)),
		},
	}
}

func (s *PostgresStoreSuite) TestPutRoundTrip() {
	ctx := context.Background()
	msg := s.outbound("permalink-bob", 0, 100)
	msg.PrevToRecipient = "link-prev"
	s.Require().NoError(s.store.Put(ctx, msg))

	got, err := s.store.GetByLink(ctx, msg.Link)
	s.Require().NoError(err)
	s.Equal(msg.Link, got.Link)
	s.Equal(msg.Recipient, got.Recipient)
	s.Equal(msg.PrevToRecipient, got.PrevToRecipient)
	s.EqualValues(100, got.Time)
	s.Require().NotNil(got.Object)
	s.Equal(msg.Object.Link, got.Object.Link)
}

func (s *PostgresStoreSuite) TestConditionalInsert() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, s.outbound("permalink-bob", 0, 100)))

	s.Run("slot conflict", func() {
		contender := s.outbound("permalink-bob", 0, 101)
		contender.Link = "link-contender"
		s.Require().ErrorIs(s.store.Put(ctx, contender), sentinel.ErrConflict)
	})

	s.Run("link conflict", func() {
		dup := s.outbound("permalink-bob", 1, 101)
		dup.Link = "link-out-permalink-bob-0"
		s.Require().ErrorIs(s.store.Put(ctx, dup), sentinel.ErrConflict)
	})

	s.Run("same seq inbound is a different slot", func() {
		in := s.outbound("permalink-bob", 0, 102)
		in.Inbound = true
		in.Author = "permalink-bob"
		in.Recipient = ""
		in.Link = "link-in-0"
		s.Require().NoError(s.store.Put(ctx, in))
	})
}

// Concurrent writers racing on one sequence slot: exactly one insert wins.
func (s *PostgresStoreSuite) TestConcurrentSlotClaim() {
	ctx := context.Background()
	const writers = 10

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := s.outbound("permalink-bob", 0, int64(100+i))
			msg.Link = domain.Link(fmt.Sprintf("link-writer-%d", i))
			errs[i] = s.store.Put(ctx, msg)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			s.Require().ErrorIs(err, sentinel.ErrConflict)
		}
	}
	s.Equal(1, won)
}

func (s *PostgresStoreSuite) TestLastAndList() {
	ctx := context.Background()
	for seq := uint64(0); seq < 7; seq++ {
		s.Require().NoError(s.store.Put(ctx, s.outbound("permalink-bob", seq, int64(100+seq))))
	}
	in := s.outbound("permalink-bob", 3, 500)
	in.Inbound = true
	in.Author = "permalink-bob"
	in.Recipient = ""
	in.Link = "link-in-3"
	s.Require().NoError(s.store.Put(ctx, in))

	s.Run("last sent", func() {
		last, err := s.store.LastSent(ctx, "permalink-bob")
		s.Require().NoError(err)
		s.EqualValues(6, last.Seq)
	})

	s.Run("last received", func() {
		last, err := s.store.LastReceived(ctx, "permalink-bob")
		s.Require().NoError(err)
		s.Equal(domain.Link("link-in-3"), last.Link)
	})

	s.Run("empty stream", func() {
		_, err := s.store.LastSent(ctx, "permalink-nobody")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("windowed list", func() {
		after, before := uint64(1), uint64(5)
		msgs, err := s.store.ListSent(ctx, "permalink-bob", message.Range{After: &after, Before: &before}, 2)
		s.Require().NoError(err)
		s.Require().Len(msgs, 2)
		s.EqualValues(2, msgs[0].Seq)
		s.EqualValues(3, msgs[1].Seq)
	})
}

func (s *PostgresStoreSuite) TestAttachSeal() {
	ctx := context.Background()
	msg := s.outbound("permalink-bob", 0, 100)
	s.Require().NoError(s.store.Put(ctx, msg))

	seal := &domain.Seal{Link: msg.Object.Link, Blockchain: "fake", Network: "test", TxID: "tx-1", Confirmations: 6}
	s.Require().NoError(s.store.AttachSeal(ctx, msg.Object.Link, seal))
	s.Require().ErrorIs(s.store.AttachSeal(ctx, "payload-unknown", seal), sentinel.ErrNotFound)
}
