// internal/rewards/rewards.go
//
// The finish/reward hook: invoked once per session when it transitions to
// finished. Placement order decides the coin/xp ranges; xp feeds a level
// curve that grows 1.2x per level.
package rewards

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/ohlushko/unobot/internal/config"
	"github.com/ohlushko/unobot/internal/database"
	"github.com/ohlushko/unobot/internal/models"
)

// PlayerStore is the slice of the player repo the hook needs.
type PlayerStore interface {
	Ensure(ctx context.Context, id int64, name string) (*database.PlayerProfile, error)
	Update(ctx context.Context, p *database.PlayerProfile) error
}

// Service pays out placement rewards once per finished session.
type Service struct {
	players PlayerStore
	coins   [4]config.Range
	xp      [4]config.Range
	log     *logrus.Logger
}

// New builds the hook from the configured ranges.
func New(players PlayerStore, cfg config.Settings, log *logrus.Logger) *Service {
	return &Service{players: players, coins: cfg.RewardCoins, xp: cfg.RewardXP, log: log}
}

func randRange(r config.Range) int {
	lo, hi := r.Lo, r.Hi
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo + rand.Intn(hi-lo+1)
}

// ApplyIfNeeded pays rewards for the state's placements exactly once,
// guarded by the RewardsApplied flag inside the state itself (so the guard
// commits atomically with the same save as the terminal state). Returns the
// level-ups that still need notifying.
func (s *Service) ApplyIfNeeded(ctx context.Context, gs *models.GameState) (map[string]models.LevelUp, error) {
	if gs.RewardsApplied {
		if gs.LevelUpsNotified {
			return nil, nil
		}
		return gs.LevelUps, nil
	}

	levelUps := map[string]models.LevelUp{}
	payouts := map[string]models.Reward{}

	for idx, uid := range gs.Placements {
		tier := idx
		if tier > 3 {
			tier = 3
		}
		coins := randRange(s.coins[tier])
		xp := randRange(s.xp[tier])

		name := gs.PlayerMeta[models.Key(uid)].Name
		p, err := s.players.Ensure(ctx, uid, name)
		if err != nil {
			return nil, fmt.Errorf("reward payout for %d: %w", uid, err)
		}

		p.Coins += coins
		p.XP += xp
		if idx == 0 {
			p.Wins++
		}
		gained, newLevel := applyLevelUp(p)

		if err := s.players.Update(ctx, p); err != nil {
			return nil, fmt.Errorf("reward payout for %d: %w", uid, err)
		}

		payouts[models.Key(uid)] = models.Reward{Coins: coins, XP: xp}
		if gained > 0 {
			levelUps[models.Key(uid)] = models.LevelUp{Gained: gained, Level: newLevel}
		}

		s.log.WithFields(logrus.Fields{
			"player": uid,
			"place":  idx + 1,
			"coins":  coins,
			"xp":     xp,
		}).Debug("reward paid")
	}

	gs.RewardsApplied = true
	gs.Rewards = payouts
	gs.LevelUps = levelUps
	gs.LevelUpsNotified = false
	return levelUps, nil
}

// applyLevelUp consumes xp over the threshold, growing the requirement 1.2x
// per level gained.
func applyLevelUp(p *database.PlayerProfile) (gained, level int) {
	for p.XP >= p.NextLevelXP {
		p.XP -= p.NextLevelXP
		p.Level++
		gained++
		next := int(math.Ceil(float64(p.NextLevelXP) * 1.2))
		if next <= p.NextLevelXP {
			next = p.NextLevelXP + 1
		}
		p.NextLevelXP = next
	}
	return gained, p.Level
}
