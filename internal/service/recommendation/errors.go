package recommendation

import (
	"fmt"

	"github.com/ignite/bidguard/internal/domain"
)

// Sentinel errors for the recommendation service layer. Both unwrap to
// domain.ErrInvalidInput.
var (
	ErrNoIDs          = fmt.Errorf("%w: at least one recommendation id is required", domain.ErrInvalidInput)
	ErrInvalidEntity  = fmt.Errorf("%w: recommendation entity is incomplete", domain.ErrInvalidInput)
	ErrUnknownAdjType = fmt.Errorf("%w: unknown adjustment type", domain.ErrInvalidInput)
)
