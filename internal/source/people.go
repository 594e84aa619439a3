package source

import "github.com/alvmarrod/follow-weaver/internal/storage"

// Topic is a named entity a profile refers to (school, major, company...).
type Topic struct {
	Name string `json:"name"`
}

// Education is one entry of a profile's education history. Either side may
// be absent.
type Education struct {
	School *Topic `json:"school,omitempty"`
	Major  *Topic `json:"major,omitempty"`
}

// Employment is one entry of a profile's employment history. Either side may
// be absent.
type Employment struct {
	Company *Topic `json:"company,omitempty"`
	Job     *Topic `json:"job,omitempty"`
}

// People is a profile as served by the graph source.
type People struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Headline       string       `json:"headline"`
	Gender         int          `json:"gender"`
	AnswerCount    int          `json:"answer_count"`
	QuestionCount  int          `json:"question_count"`
	VoteupCount    int          `json:"voteup_count"`
	ThankedCount   int          `json:"thanked_count"`
	FollowingCount int          `json:"following_count"`
	FollowerCount  int          `json:"follower_count"`
	Educations     []Education  `json:"educations,omitempty"`
	Locations      []Topic      `json:"locations,omitempty"`
	Business       *Topic       `json:"business,omitempty"`
	Employments    []Employment `json:"employments,omitempty"`
}

// Record flattens the profile into a storage row. Only the first education,
// location and employment entry is kept; later entries are discarded.
func (p People) Record() storage.ProfileRecord {
	rec := storage.ProfileRecord{
		ID:             p.ID,
		Name:           p.Name,
		Headline:       p.Headline,
		Gender:         p.Gender,
		AnswerCount:    p.AnswerCount,
		QuestionCount:  p.QuestionCount,
		VoteupCount:    p.VoteupCount,
		ThankedCount:   p.ThankedCount,
		FollowingCount: p.FollowingCount,
		FollowerCount:  p.FollowerCount,
		Industry:       p.Business.name(),
	}

	if len(p.Educations) > 0 {
		rec.School = p.Educations[0].School.name()
		rec.Major = p.Educations[0].Major.name()
	}
	if len(p.Locations) > 0 {
		rec.Address = p.Locations[0].Name
	}
	if len(p.Employments) > 0 {
		rec.Company = p.Employments[0].Company.name()
		rec.Job = p.Employments[0].Job.name()
	}

	return rec
}

func (t *Topic) name() string {
	if t == nil {
		return ""
	}
	return t.Name
}
