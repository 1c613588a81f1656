package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RunProgressKey(runID uuid.UUID) string {
	return fmt.Sprintf("run:progress:%s", runID)
}
