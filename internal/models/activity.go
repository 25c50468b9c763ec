package models

import "time"

// QuestionType identifies how a question is answered and tallied.
type QuestionType string

const (
	QuestionMultiChoice QuestionType = "MultiChoice"
	QuestionMultiVote   QuestionType = "MultiVote"
	QuestionOpenText    QuestionType = "OpenText"
	QuestionRating      QuestionType = "Rating"
	QuestionWordCloud   QuestionType = "WordCloud"
	QuestionRanking     QuestionType = "Ranking"
	QuestionQAOnly      QuestionType = "QAOnly"
)

// ResultVisibility controls when participants may see tallies.
type ResultVisibility string

const (
	ResultsLive          ResultVisibility = "live"
	ResultsAfterQuestion ResultVisibility = "after_question"
	ResultsAfterActivity ResultVisibility = "after_activity"
)

// QuestionSettings holds per-question limits and scoring.
type QuestionSettings struct {
	TimeLimitSec int  `json:"timeLimitSec,omitempty" bson:"time_limit_sec,omitempty"` // 0 = no limit
	Required     bool `json:"required" bson:"required"`
	CharLimit    int  `json:"charLimit,omitempty" bson:"char_limit,omitempty"`
	Points       int  `json:"points,omitempty" bson:"points,omitempty"`
}

// Question is one entry in an activity's ordered question list.
type Question struct {
	ID          string           `json:"id" bson:"id"`
	Type        QuestionType     `json:"type" bson:"type"`
	Text        string           `json:"text" bson:"text"`
	Description string           `json:"description,omitempty" bson:"description,omitempty"`
	Options     []string         `json:"options,omitempty" bson:"options,omitempty"`
	Settings    QuestionSettings `json:"settings" bson:"settings"`
}

// ActivitySettings are the host-authored global settings of an activity.
type ActivitySettings struct {
	AllowAnonymous   bool             `json:"allowAnonymous" bson:"allow_anonymous"`
	AllowQA          bool             `json:"allowQA" bson:"allow_qa"`
	ResultVisibility ResultVisibility `json:"resultVisibility" bson:"result_visibility"`
}

// Activity is the immutable template a live session is instantiated from.
// Owned by the storage collaborator; the session keeps a reference, never a copy.
type Activity struct {
	ID          string           `json:"id" bson:"_id"`
	Title       string           `json:"title" bson:"title"`
	Description string           `json:"description,omitempty" bson:"description,omitempty"`
	PIN         string           `json:"pin" bson:"pin"`
	HostIDs     []string         `json:"hostIds" bson:"host_ids"`
	Questions   []Question       `json:"questions" bson:"questions"`
	Settings    ActivitySettings `json:"settings" bson:"settings"`
	CreatedAt   time.Time        `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time        `json:"updatedAt" bson:"updated_at"`
}

// IsHost reports whether the user is in the activity's host set.
func (a *Activity) IsHost(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range a.HostIDs {
		if id == userID {
			return true
		}
	}
	return false
}
