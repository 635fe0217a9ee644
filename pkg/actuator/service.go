// Package actuator implements the device-side service that owns the arm and
// its camera, enforces the safety envelope and serves the HTTP protocol.
package actuator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/gwillem/dofbot/pkg/robot"
)

const (
	// DefaultMoveDuration is used when a write does not specify one.
	DefaultMoveDuration = 5000 * time.Millisecond
	// SettleMargin is added to every move before the arm is read back.
	SettleMargin = 500 * time.Millisecond
	// HomeDuration is the duration of a move to the home pose.
	HomeDuration = 1000 * time.Millisecond
	// MaxMoveDuration bounds the t parameter.
	MaxMoveDuration = 60 * time.Second

	// captureAttempts is the first try plus one recovery attempt.
	captureAttempts = 2
)

// Grip selects the gripper position of the home pose.
type Grip string

const (
	GripOpen   Grip = "open"
	GripClosed Grip = "closed"
)

// Camera is the device camera handle.
type Camera interface {
	Capture(ctx context.Context) (image.Image, error)
	// Reset forcibly releases and reopens the device.
	Reset(ctx context.Context) error
}

// Move describes one applied write, passed to the Recorder.
type Move struct {
	Requested robot.JointAngles
	Applied   robot.JointAngles // after clamping
	Result    robot.JointAngles // read back after settling
	Duration  time.Duration
	Start     time.Time
}

// Recorder persists applied moves. Failures are logged, never returned.
type Recorder interface {
	RecordMove(ctx context.Context, m Move) error
}

// Service is the authoritative owner of the arm and camera.
type Service struct {
	driver   robot.Driver
	camera   Camera
	envelope robot.Envelope
	recorder Recorder
	logger   *slog.Logger

	gripOpen   int
	gripClosed int
	quality    int

	sleep func(time.Duration)
	now   func() time.Time

	// armMu serializes every hardware write, including its settle wait and
	// read-back. Camera capture has its own lock.
	armMu sync.Mutex
	camMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithCamera sets the camera used by CaptureImage.
func WithCamera(c Camera) Option {
	return func(s *Service) { s.camera = c }
}

// WithRecorder sets a move recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithSleep replaces time.Sleep for the settle wait.
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Service) { s.sleep = fn }
}

// WithGripper overrides the gripper angles of the open and closed home poses.
func WithGripper(open, closed int) Option {
	return func(s *Service) {
		s.gripOpen = open
		s.gripClosed = closed
	}
}

// WithJPEGQuality sets the encoder quality of captured images.
func WithJPEGQuality(q int) Option {
	return func(s *Service) { s.quality = q }
}

// NewService wraps a servo driver. The driver is exclusively owned by the
// service from here on.
func NewService(driver robot.Driver, opts ...Option) *Service {
	s := &Service{
		driver:     driver,
		envelope:   robot.DefaultEnvelope,
		logger:     slog.Default(),
		gripOpen:   robot.HomeDegrees,
		gripClosed: 180,
		quality:    90,
		sleep:      time.Sleep,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Envelope returns the safety table the service enforces.
func (s *Service) Envelope() robot.Envelope {
	return s.envelope
}

// ReadAngles reads the live servo positions. Failures are not retried.
func (s *Service) ReadAngles(ctx context.Context) (robot.JointAngles, error) {
	angles, err := s.driver.ReadAngles(ctx)
	if err != nil {
		return nil, fmt.Errorf("read angles: %w", asHardwareRead(err))
	}
	if err := angles.Validate(); err != nil {
		return nil, fmt.Errorf("read angles: %w: %v", robot.ErrHardwareRead, err)
	}
	return angles, nil
}

// WriteAngles clamps target to the envelope, commands the move and blocks
// for duration plus SettleMargin before reading the arm back. A zero
// duration moves as fast as the servos allow. The returned angles are the
// post-move state, which differs from target whenever clamping applied.
//
// Writes are serialized; a second caller waits until the first move has
// settled. The settle wait ignores ctx so a move always runs to completion.
func (s *Service) WriteAngles(ctx context.Context, target robot.JointAngles, duration time.Duration) (robot.JointAngles, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if duration < 0 || duration > MaxMoveDuration {
		return nil, fmt.Errorf("%w: duration %v outside [0, %v]", robot.ErrInvalidInput, duration, MaxMoveDuration)
	}
	applied := s.envelope.Clamp(target)
	if !applied.Equal(target) {
		s.logger.Info("clamped move to safety envelope", "requested", target.String(), "applied", applied.String())
	}

	s.armMu.Lock()
	defer s.armMu.Unlock()

	start := s.now()
	if err := s.driver.WriteAngles(context.WithoutCancel(ctx), applied, duration); err != nil {
		return nil, fmt.Errorf("write angles: %w", err)
	}
	s.sleep(duration + SettleMargin)

	result, err := s.ReadAngles(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}

	s.logger.Debug("move complete", "applied", applied.String(), "result", result.String(), "duration", duration)
	if s.recorder != nil {
		m := Move{Requested: target.Clone(), Applied: applied, Result: result, Duration: duration, Start: start}
		if err := s.recorder.RecordMove(context.WithoutCancel(ctx), m); err != nil {
			s.logger.Warn("failed to record move", "error", err)
		}
	}
	return result, nil
}

// HomePose returns the home pose for the given grip.
func (s *Service) HomePose(grip Grip) robot.JointAngles {
	home := robot.Uniform(robot.HomeDegrees)
	if grip == GripClosed {
		home[robot.Gripper] = s.gripClosed
	} else {
		home[robot.Gripper] = s.gripOpen
	}
	return home
}

// MoveHome moves to the home pose over HomeDuration.
func (s *Service) MoveHome(ctx context.Context, grip Grip) (robot.JointAngles, error) {
	return s.WriteAngles(ctx, s.HomePose(grip), HomeDuration)
}

// CaptureImage grabs one JPEG frame. On failure the camera is reset once and
// the capture retried once; a second failure is returned as ErrCapture.
func (s *Service) CaptureImage(ctx context.Context) ([]byte, error) {
	if s.camera == nil {
		return nil, fmt.Errorf("%w: no camera configured", robot.ErrCapture)
	}

	s.camMu.Lock()
	defer s.camMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < captureAttempts; attempt++ {
		if attempt > 0 {
			s.logger.Warn("capture failed, resetting camera", "error", lastErr)
			if err := s.camera.Reset(ctx); err != nil {
				s.logger.Warn("camera reset failed", "error", err)
			}
		}

		img, err := s.camera.Capture(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
			return nil, fmt.Errorf("%w: encode jpeg: %v", robot.ErrCapture, err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %v", robot.ErrCapture, lastErr)
}

// Close releases the arm.
func (s *Service) Close() error {
	s.armMu.Lock()
	defer s.armMu.Unlock()
	return s.driver.Close()
}

func asHardwareRead(err error) error {
	if errors.Is(err, robot.ErrHardwareRead) {
		return err
	}
	return fmt.Errorf("%w: %v", robot.ErrHardwareRead, err)
}
