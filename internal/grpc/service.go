package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	_ "google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/status"

	"fuzzyracer/racer/internal/control"
	"fuzzyracer/racer/internal/logging"
	"fuzzyracer/racer/internal/session"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "racer.v1.RaceService"

const (
	defaultWatchHz = 20
	maxWatchHz     = 240
	watchBuffer    = 32
)

// Option customises the behaviour of the gRPC race service.
type Option func(*Service)

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

// WithTickerFactory overrides the throttling ticker factory (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// WithGate routes sequenced Drive frames through the control gate.
func WithGate(gate *control.Gate) Option {
	return func(s *Service) { s.gate = gate }
}

// WithLogger overrides the service logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// RaceServer is the server API for racer.v1.RaceService.
type RaceServer interface {
	Watch(*WatchRequest, WatchStream) error
	Drive(DriveStream) error
	Command(context.Context, *CommandRequest) (*CommandResponse, error)
}

// WatchStream is the server side of Watch.
type WatchStream interface {
	Send(*Frame) error
	grpc.ServerStream
}

// DriveStream is the server side of Drive.
type DriveStream interface {
	Recv() (*ControlFrame, error)
	SendAndClose(*DriveAck) error
	grpc.ServerStream
}

// Service streams session snapshots and ingests controls and lifecycle commands.
type Service struct {
	sessions    SessionSource
	gate        *control.Gate
	log         *logging.Logger
	compressors compressorSet
	newTicker   tickerFactory
}

// NewService wires the gRPC service to the session source and optional settings.
func NewService(sessions SessionSource, opts ...Option) *Service {
	service := &Service{
		sessions:    sessions,
		log:         logging.L(),
		compressors: defaultCompressors(),
		newTicker:   defaultTickerFactory,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// Register attaches the service to a gRPC server.
func Register(server *grpc.Server, service RaceServer) {
	server.RegisterService(&raceServiceDesc, service)
}

func (s *Service) lookup(id string) (*session.Session, error) {
	if s == nil || s.sessions == nil {
		return nil, status.Error(codes.FailedPrecondition, "sessions unavailable")
	}
	if strings.TrimSpace(id) == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	sess, err := s.sessions.Get(id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return sess, nil
}

// Watch streams the session's state at a throttled cadence. Only the newest state is kept
// between ticks; game-over frames are sent immediately after any pending state.
func (s *Service) Watch(req *WatchRequest, stream WatchStream) error {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return err
	}
	compressor, err := s.compressors.lookup(req.Encoding)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	hz := req.MaxHz
	if hz <= 0 {
		hz = defaultWatchHz
	}
	hz = min(hz, maxWatchHz)

	sub, err := sess.Subscribe(watchBuffer)
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	defer sub.Close()

	tickCh, stop := s.newTicker(time.Duration(float64(time.Second) / hz))
	defer stop()

	ctx := stream.Context()
	var pending *session.Update
	flush := func() error {
		if pending == nil {
			return nil
		}
		//1.- Encode lazily so skipped states cost nothing.
		raw, err := json.Marshal(pending.Snapshot)
		if err != nil {
			return status.Errorf(codes.Internal, "encode snapshot: %v", err)
		}
		payload, err := compressor.Compress(raw)
		if err != nil {
			return status.Errorf(codes.Internal, "compress snapshot: %v", err)
		}
		frame := &Frame{SessionID: sess.ID(), Kind: FrameState, Tick: pending.Snapshot.Tick, Encoding: compressor.Name(), Payload: payload}
		pending = nil
		return stream.Send(frame)
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case update, ok := <-sub.Updates():
			if !ok {
				//2.- The session closed; drain what is left and end the stream cleanly.
				return flush()
			}
			if update.Kind != session.UpdateGameOver {
				pending = &update
				continue
			}
			if err := flush(); err != nil {
				return err
			}
			over := update.GameOver
			frame := &Frame{SessionID: sess.ID(), Kind: FrameGameOver, Tick: update.Snapshot.Tick, GameOver: &over}
			if err := stream.Send(frame); err != nil {
				return err
			}
		case <-tickCh:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// Drive ingests control frames until the client closes the stream.
func (s *Service) Drive(stream DriveStream) error {
	var (
		ack      DriveAck
		sessions = make(map[string]*session.Session)
	)
	for {
		frame, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return stream.SendAndClose(&ack)
		}
		if err != nil {
			return err
		}
		sess, ok := sessions[frame.SessionID]
		if !ok {
			sess, err = s.lookup(frame.SessionID)
			if err != nil {
				return err
			}
			sessions[frame.SessionID] = sess
		}
		//1.- Sequenced frames pass the gate; unsequenced ones apply as they arrive.
		if frame.Seq > 0 {
			sentAt := time.Time{}
			if frame.SentAtMs > 0 {
				sentAt = time.UnixMilli(frame.SentAtMs)
			}
			clientID := frame.ClientID
			if clientID == "" {
				clientID = "grpc:" + frame.SessionID
			}
			decision := s.gate.Evaluate(control.Frame{ClientID: clientID, SequenceID: frame.Seq, SentAt: sentAt})
			if !decision.Accepted {
				ack.Rejected++
				continue
			}
		}
		sess.SubmitRaw(frame.raw())
		ack.Accepted++
	}
}

// Command applies a lifecycle command to a session.
func (s *Service) Command(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return nil, err
	}
	command := strings.ToLower(strings.TrimSpace(req.Command))
	resp := &CommandResponse{SessionID: sess.ID(), Command: command}
	switch command {
	case CommandStart:
		resp.Changed, err = sess.Start()
	case CommandReset:
		err = sess.Reset()
		resp.Changed = err == nil
	case CommandStop:
		resp.Changed = sess.Stop()
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown command %q", req.Command)
	}
	if errors.Is(err, session.ErrSessionClosed) {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	resp.Lifecycle = sess.Snapshot().Lifecycle
	logging.LoggerFromContext(ctx).Debug("grpc command applied",
		logging.String("session_id", sess.ID()),
		logging.String("command", command),
		logging.Bool("changed", resp.Changed))
	return resp, nil
}

var _ RaceServer = (*Service)(nil)

type watchServerStream struct{ grpc.ServerStream }

func (x *watchServerStream) Send(frame *Frame) error { return x.ServerStream.SendMsg(frame) }

type driveServerStream struct{ grpc.ServerStream }

func (x *driveServerStream) Recv() (*ControlFrame, error) {
	frame := new(ControlFrame)
	if err := x.ServerStream.RecvMsg(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (x *driveServerStream) SendAndClose(ack *DriveAck) error { return x.ServerStream.SendMsg(ack) }

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(WatchRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(RaceServer).Watch(req, &watchServerStream{stream})
}

func driveHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RaceServer).Drive(&driveServerStream{stream})
}

func commandHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(CommandRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaceServer).Command(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Command"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RaceServer).Command(ctx, req.(*CommandRequest))
	}
	return interceptor(ctx, req, info, handler)
}

var raceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RaceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Command", Handler: commandHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
		{StreamName: "Drive", Handler: driveHandler, ClientStreams: true},
	},
	Metadata: "racer/v1/race",
}
