package app

import (
	"gorm.io/gorm"

	"github.com/bandforge/ielts-backend/internal/data/repos/billing"
	"github.com/bandforge/ielts-backend/internal/data/repos/exam"
	"github.com/bandforge/ielts-backend/internal/data/repos/user"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type Repos struct {
	User         user.UserRepo
	UserEvent    user.UserEventRepo
	Entitlement  billing.EntitlementRepo
	Question     exam.QuestionRepo
	Attempt      exam.AttemptRepo
	Conversation exam.ConversationRepo
	Score        exam.ScoreRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:         user.NewUserRepo(db, log),
		UserEvent:    user.NewUserEventRepo(db, log),
		Entitlement:  billing.NewEntitlementRepo(db, log),
		Question:     exam.NewQuestionRepo(db, log),
		Attempt:      exam.NewAttemptRepo(db, log),
		Conversation: exam.NewConversationRepo(db, log),
		Score:        exam.NewScoreRepo(db, log),
	}
}
