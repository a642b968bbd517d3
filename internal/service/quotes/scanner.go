package quotes

import (
	"context"
	"errors"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/domain/service"
	"AgentFlow/pkg/logger"
)

// Scanner runs the discoverer over the pairs configured for each agent.
type Scanner struct {
	discoverer service.Discoverer
	routes     map[string][]models.VenuePair
	log        *logger.Logger
}

var _ service.Scanner = (*Scanner)(nil)

func NewScanner(d service.Discoverer, routes map[string][]models.VenuePair, log *logger.Logger) *Scanner {
	return &Scanner{discoverer: d, routes: routes, log: log.Named("quote_scanner")}
}

// Scan fails only when every configured pair failed.
func (s *Scanner) Scan(ctx context.Context, agent models.Agent) ([]models.Opportunity, error) {
	pairs := s.routes[agent.ID]
	var (
		found []models.Opportunity
		errs  []error
	)
	for _, p := range pairs {
		opps, err := s.discoverer.Discover(ctx, p)
		if err != nil {
			s.log.Warn("pair scan failed",
				logger.String("agent_id", agent.ID),
				logger.String("pair", p.Pair),
				logger.Error(err))
			errs = append(errs, err)
			continue
		}
		found = append(found, opps...)
	}
	if len(pairs) > 0 && len(errs) == len(pairs) {
		return nil, errors.Join(errs...)
	}
	return found, nil
}
