package reconcile

import (
	"errors"
	"io"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/slbailey/retrovue/internal/evidence"
	"github.com/slbailey/retrovue/internal/evidence/transport"
	"github.com/slbailey/retrovue/internal/log"
)

// Server is the receiver side of the evidence stream. Each stream carries one
// session: HELLO first, then records in sequence order. Acks are durable
// before they are sent, so a crashed receiver never un-acks.
type Server struct {
	store  *Store
	proj   *Projector
	now    func() int64
	logger zerolog.Logger
}

// NewServer wires the receiver. nowUTCMS stamps stored acks.
func NewServer(store *Store, proj *Projector, nowUTCMS func() int64) *Server {
	return &Server{
		store:  store,
		proj:   proj,
		now:    nowUTCMS,
		logger: log.WithComponent("reconcile.server"),
	}
}

// Stream implements transport.EvidenceServer.
func (s *Server) Stream(stream grpc.BidiStreamingServer[transport.ClientMessage, transport.ServerMessage]) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Hello == nil {
		return status.Error(codes.InvalidArgument, "stream must open with hello")
	}
	hello := *first.Hello

	acked, err := s.store.AckFor(hello.SessionID)
	if err != nil {
		return status.Errorf(codes.Internal, "load ack: %v", err)
	}
	logger := s.logger.With().
		Str(log.FieldChannelID, hello.ChannelID).
		Str(log.FieldSessionID, hello.SessionID).
		Logger()
	logger.Info().
		Uint64("acked_sequence", acked).
		Uint64("last_emitted", hello.LastSequenceEmitted).
		Msg("evidence session connected")

	if hello.FirstSequenceAvailable > acked+1 {
		// The sender pruned past our ack; the gap is unrecoverable. Adopt
		// the sender's floor so the stream can still make progress.
		logger.Warn().
			Uint64("first_available", hello.FirstSequenceAvailable).
			Uint64("acked_sequence", acked).
			Msg("evidence gap: sender pruned unacked records")
		acked = hello.FirstSequenceAvailable - 1
	}

	if err := stream.Send(&transport.ServerMessage{Ack: &transport.Ack{AckedSequence: acked}}); err != nil {
		return err
	}

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if msg.Record == nil {
			continue
		}
		env := *msg.Record
		if env.PlayoutSessionID != hello.SessionID {
			return status.Errorf(codes.InvalidArgument,
				"record for session %q on stream for %q", env.PlayoutSessionID, hello.SessionID)
		}

		if env.Sequence <= acked {
			// Replay overlap after reconnect; re-ack so the sender prunes.
			if err := stream.Send(&transport.ServerMessage{Ack: &transport.Ack{AckedSequence: acked}}); err != nil {
				return err
			}
			continue
		}
		if env.Sequence != acked+1 {
			return status.Errorf(codes.FailedPrecondition,
				"sequence gap: got %d after ack %d", env.Sequence, acked)
		}

		inserted, err := s.store.InsertEvent(env)
		if err != nil {
			return status.Errorf(codes.Internal, "persist event: %v", err)
		}
		if inserted {
			if err := s.proj.Apply(env); err != nil {
				logger.Error().Err(err).Uint64("sequence", env.Sequence).Msg("asrun projection failed")
			}
		}

		acked = env.Sequence
		if err := s.store.UpdateAck(hello.SessionID, hello.ChannelID, acked, evidence.FormatEmittedUTC(s.now())); err != nil {
			return status.Errorf(codes.Internal, "persist ack: %v", err)
		}
		if err := stream.Send(&transport.ServerMessage{Ack: &transport.Ack{AckedSequence: acked}}); err != nil {
			return err
		}
	}
}
