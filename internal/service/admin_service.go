package service

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
	"github.com/opinionmkt/opiniond/internal/engine"
)

// roleArgs is the journaled argument set of the role operations.
type roleArgs struct {
	Role    engine.Role    `json:"role"`
	Account common.Address `json:"account"`
}

// AdminService handles privileged recovery and governance operations.
type AdminService struct {
	writer *Writer
	logger *slog.Logger
}

// NewAdminService creates an AdminService around the shared writer.
func NewAdminService(writer *Writer, logger *slog.Logger) *AdminService {
	return &AdminService{writer: writer, logger: logger}
}

// Pause stops all trading transitions. Claims keep working.
func (s *AdminService) Pause(ctx context.Context, caller common.Address) error {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	ev, err := w.eng.Pause(c)
	if err != nil {
		return err
	}
	if err := w.record(ctx, domain.OpPause, c, claimArgs{}, []domain.Event{ev}); err != nil {
		return err
	}
	s.logger.WarnContext(ctx, "admin_service: engine paused", slog.String("by", caller.Hex()))
	return nil
}

// Unpause resumes trading.
func (s *AdminService) Unpause(ctx context.Context, caller common.Address) error {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	ev, err := w.eng.Unpause(c)
	if err != nil {
		return err
	}
	if err := w.record(ctx, domain.OpUnpause, c, claimArgs{}, []domain.Event{ev}); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "admin_service: engine unpaused", slog.String("by", caller.Hex()))
	return nil
}

// SetParams replaces the engine parameter set.
func (s *AdminService) SetParams(ctx context.Context, caller common.Address, p engine.Params) error {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	if err := w.eng.SetParams(c, p); err != nil {
		return err
	}
	if err := w.record(ctx, domain.OpSetParams, c, p, nil); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "admin_service: params updated", slog.String("by", caller.Hex()))
	return nil
}

// Params returns the engine's current parameter set.
func (s *AdminService) Params() engine.Params {
	return s.writer.eng.Params()
}

// GrantRole gives an account a role.
func (s *AdminService) GrantRole(ctx context.Context, caller common.Address, role engine.Role, account common.Address) error {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	if err := w.eng.GrantRole(c, role, account); err != nil {
		return err
	}
	if err := w.record(ctx, domain.OpGrantRole, c, roleArgs{Role: role, Account: account}, nil); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "admin_service: role granted",
		slog.String("role", string(role)),
		slog.String("account", account.Hex()),
	)
	return nil
}

// RevokeRole removes a role from an account.
func (s *AdminService) RevokeRole(ctx context.Context, caller common.Address, role engine.Role, account common.Address) error {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	if err := w.eng.RevokeRole(c, role, account); err != nil {
		return err
	}
	if err := w.record(ctx, domain.OpRevokeRole, c, roleArgs{Role: role, Account: account}, nil); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "admin_service: role revoked",
		slog.String("role", string(role)),
		slog.String("account", account.Hex()),
	)
	return nil
}

// ModerateAnswer reverts the current answer ownership to the creator.
func (s *AdminService) ModerateAnswer(ctx context.Context, caller common.Address, args engine.ModerateAnswerArgs) (domain.Opinion, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	o, events, err := w.eng.ModerateAnswer(c, args)
	if err != nil {
		return domain.Opinion{}, err
	}
	if err := w.record(ctx, domain.OpModerateAnswer, c, args, events); err != nil {
		return domain.Opinion{}, err
	}
	if err := w.persistOpinion(ctx, o); err != nil {
		return domain.Opinion{}, err
	}
	s.logger.WarnContext(ctx, "admin_service: answer moderated",
		slog.Uint64("opinion_id", o.ID),
		slog.String("reason", args.Reason),
	)
	return o, nil
}

// SetActive toggles trading on an opinion.
func (s *AdminService) SetActive(ctx context.Context, caller common.Address, args engine.SetActiveArgs) (domain.Opinion, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	o, events, err := w.eng.SetActive(c, args)
	if err != nil {
		return domain.Opinion{}, err
	}
	if err := w.record(ctx, domain.OpSetActive, c, args, events); err != nil {
		return domain.Opinion{}, err
	}
	if err := w.persistOpinion(ctx, o); err != nil {
		return domain.Opinion{}, err
	}
	return o, nil
}

// Paused reports whether trading is currently halted.
func (s *AdminService) Paused() bool {
	return s.writer.eng.Paused()
}
