package backtest

import (
	"fmt"
	"strings"
)

// EmptyReturnMatrixError is returned when a simulation is given zero
// periods to replay.
type EmptyReturnMatrixError struct{}

func (e *EmptyReturnMatrixError) Error() string {
	return "return matrix has no periods to simulate"
}

// WeightAssetMismatchError is returned when the target weights reference
// assets the return matrix does not carry.
type WeightAssetMismatchError struct {
	Missing []string
}

func (e *WeightAssetMismatchError) Error() string {
	return fmt.Sprintf("weights reference assets absent from the return matrix: %s",
		strings.Join(e.Missing, ", "))
}
