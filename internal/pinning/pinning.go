package pinning

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"trestle/internal/cidutil"
	"trestle/internal/logging"
	"trestle/internal/progress"
	"trestle/internal/services"
)

// PrimaryBackend is the authenticated pinning service of record.
type PrimaryBackend interface {
	Configured() bool
	HasCID(ctx context.Context, cid string) (bool, error)
	Upload(ctx context.Context, path, name string) (string, error)
	PinByCID(ctx context.Context, cid, name string) error
}

// SecondaryBackend is the self-hosted node used for redundancy.
type SecondaryBackend interface {
	IsPinned(ctx context.Context, cid string) bool
	Pin(ctx context.Context, cid string, onProgress func(nodes int)) error
}

// Outcome is the result of a pin attempt. AlreadyPinned is true when the
// primary backend held the content before any upload happened.
type Outcome struct {
	CID           string `json:"cid"`
	URI           string `json:"uri"`
	GatewayURL    string `json:"gatewayUrl"`
	SizeBytes     int64  `json:"sizeBytes"`
	AlreadyPinned bool   `json:"alreadyPinned"`
}

// Coordinator orchestrates idempotent uploads across both backends.
type Coordinator struct {
	primary    PrimaryBackend
	secondary  SecondaryBackend
	gatewayURL string
	baseCtx    context.Context
	logger     *slog.Logger
	background sync.WaitGroup
}

// NewCoordinator builds a coordinator. Detached secondary pins derive from
// baseCtx so they survive the request that spawned them.
func NewCoordinator(primary PrimaryBackend, secondary SecondaryBackend, gatewayURL string, baseCtx context.Context, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		primary:    primary,
		secondary:  secondary,
		gatewayURL: gatewayURL,
		baseCtx:    baseCtx,
		logger:     logging.NewComponentLogger(logger, "pinning"),
	}
}

// Pin ensures the file at path is stored on the primary backend and
// redundantly pinned on the secondary. The upload is skipped when the primary
// already indexes the content; the secondary pin is dispatched without
// blocking the caller and its outcome is only logged.
func (c *Coordinator) Pin(ctx context.Context, path, name string, sink progress.Sink) (Outcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Outcome{}, fmt.Errorf("stat file: %w", err)
	}

	sink.Publish(progress.NewEvent(progress.StageComputingCID, "Computing content identifier"))
	localCID, err := cidutil.FromFile(path)
	if err != nil {
		return Outcome{}, fmt.Errorf("compute content identifier: %w", err)
	}

	sink.Publish(progress.NewEvent(progress.StageChecking, "Checking primary backend"))
	found, err := c.primary.HasCID(ctx, localCID)
	if err != nil {
		// Fail open: an unreachable index must never block the upload.
		c.logger.Warn("primary index lookup failed, assuming not pinned",
			logging.String(logging.FieldCID, localCID),
			logging.Error(err),
		)
		found = false
	}

	finalCID := localCID
	if found {
		sink.Publish(progress.NewEvent(progress.StageAlreadyPin, "Content already pinned"))
	} else {
		sink.Publish(progress.NewEvent(progress.StageUploading, "Uploading to primary backend"))
		backendCID, err := c.primary.Upload(ctx, path, name)
		if err != nil {
			return Outcome{}, err
		}
		normalized, parsed := cidutil.Normalize(backendCID)
		if !parsed {
			c.logger.Warn("backend returned unparseable identifier",
				logging.String(logging.FieldCID, backendCID),
			)
		}
		if !cidutil.Equal(normalized, localCID) {
			// Backends may chunk differently while hashing equivalent
			// content; the backend's identifier is what it will serve.
			c.logger.Warn("backend identifier differs from local identifier",
				logging.String("local_cid", localCID),
				logging.String("backend_cid", normalized),
			)
		}
		finalCID = normalized
		sink.Publish(progress.NewEvent(progress.StageUploaded, "Upload complete"))
	}

	sink.Publish(progress.NewEvent(progress.StagePinningLocal, "Scheduling redundancy pin"))
	c.dispatchSecondaryPin(finalCID)

	return c.outcome(finalCID, info.Size(), found), nil
}

// PinByReference asks the primary backend to persist an identifier it can
// fetch from the public network, then ensures secondary redundancy. No bytes
// move through this process.
func (c *Coordinator) PinByReference(ctx context.Context, cid, name string) error {
	normalized, _ := cidutil.Normalize(cid)
	if err := c.primary.PinByCID(ctx, normalized, name); err != nil {
		return err
	}
	c.dispatchSecondaryPin(normalized)
	return nil
}

// EnsureLocalPin synchronously pins an identifier on the secondary backend,
// skipping work it already holds. Progress is reported per provider update.
func (c *Coordinator) EnsureLocalPin(ctx context.Context, cid string, sink progress.Sink) (bool, error) {
	normalized, parsed := cidutil.Normalize(cid)
	if !parsed {
		return false, services.Wrap(services.ErrValidation, "pinning", "local pin", "invalid content identifier", nil)
	}
	if c.secondary.IsPinned(ctx, normalized) {
		return true, nil
	}
	err := c.secondary.Pin(ctx, normalized, func(nodes int) {
		sink.Publish(progress.Event{
			Stage:   progress.StagePinningLocal,
			Message: "Pinning on local node",
			Percent: -1,
			Extra:   map[string]any{"nodes": nodes},
		})
	})
	return false, err
}

// GatewayURL returns the public fetch URL for an identifier.
func (c *Coordinator) GatewayURL(cid string) string {
	return c.gatewayURL + "/ipfs/" + cid
}

// Wait blocks until all detached secondary pins have finished. Used at
// shutdown and in tests.
func (c *Coordinator) Wait() {
	c.background.Wait()
}

func (c *Coordinator) dispatchSecondaryPin(cid string) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		if c.secondary.IsPinned(c.baseCtx, cid) {
			return
		}
		if err := c.secondary.Pin(c.baseCtx, cid, nil); err != nil {
			c.logger.Warn("secondary pin failed",
				logging.String(logging.FieldCID, cid),
				logging.Error(err),
			)
			return
		}
		c.logger.Info("secondary pin complete", logging.String(logging.FieldCID, cid))
	}()
}

func (c *Coordinator) outcome(cid string, size int64, alreadyPinned bool) Outcome {
	return Outcome{
		CID:           cid,
		URI:           "ipfs://" + cid,
		GatewayURL:    c.GatewayURL(cid),
		SizeBytes:     size,
		AlreadyPinned: alreadyPinned,
	}
}
