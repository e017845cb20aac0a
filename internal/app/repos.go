package app

import (
	"gorm.io/gorm"

	prdrepo "github.com/yungbote/prdsmith-backend/internal/data/repos/prd"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

type Repos = prdrepo.Set

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return prdrepo.NewSet(db, log)
}
