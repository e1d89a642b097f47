// Package collection defines the Bangumi collection model shared across subsystems.
package collection

import "sort"

// StatusType is the Bangumi collection status of an item.
type StatusType int

// Collection status codes as returned by the Bangumi API.
const (
	StatusWish    StatusType = 1
	StatusDone    StatusType = 2
	StatusDoing   StatusType = 3
	StatusOnHold  StatusType = 4
	StatusDropped StatusType = 5
)

// Labels written to the destination table.
const (
	LabelUnknown = "未知"
	LabelDeleted = "删除"
)

// Label maps the status code to the select option shown in the table.
func (s StatusType) Label() string {
	switch s {
	case StatusWish:
		return "想看"
	case StatusDone:
		return "看过"
	case StatusDoing:
		return "在看"
	case StatusOnHold:
		return "搁置"
	case StatusDropped:
		return "抛弃"
	default:
		return LabelUnknown
	}
}

// SubjectType is the Bangumi subject category.
type SubjectType int

// Subject category codes. 5 is unused by Bangumi.
const (
	SubjectBook  SubjectType = 1
	SubjectAnime SubjectType = 2
	SubjectMusic SubjectType = 3
	SubjectGame  SubjectType = 4
	SubjectReal  SubjectType = 6
)

// Label maps the category code to the select option shown in the table.
func (t SubjectType) Label() string {
	switch t {
	case SubjectBook:
		return "书籍"
	case SubjectAnime:
		return "动画"
	case SubjectMusic:
		return "音乐"
	case SubjectGame:
		return "游戏"
	case SubjectReal:
		return "三次元"
	default:
		return LabelUnknown
	}
}

// Tag is a user or subject tag.
type Tag struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

// Subject is the descriptive metadata embedded in a collection item.
type Subject struct {
	ID           int         `json:"id"`
	Type         SubjectType `json:"type"`
	Name         string      `json:"name"`
	NameCN       string      `json:"name_cn,omitempty"`
	ShortSummary string      `json:"short_summary,omitempty"`
	Date         string      `json:"date,omitempty"`
	Images       *Images     `json:"images,omitempty"`
	Eps          int         `json:"eps,omitempty"`
	Volumes      int         `json:"volumes,omitempty"`
	Score        float64     `json:"score,omitempty"`
	Rank         int         `json:"rank,omitempty"`
	Total        int         `json:"collection_total,omitempty"`
	Tags         []Tag       `json:"tags,omitempty"`
}

// Images holds the subject cover variants.
type Images struct {
	Large  string `json:"large,omitempty"`
	Common string `json:"common,omitempty"`
	Medium string `json:"medium,omitempty"`
	Small  string `json:"small,omitempty"`
	Grid   string `json:"grid,omitempty"`
}

// Item is one entry of a user's collection. SubjectID is its identity.
type Item struct {
	SubjectID   int         `json:"subject_id"`
	SubjectType SubjectType `json:"subject_type"`
	Type        StatusType  `json:"type"`
	Rate        int         `json:"rate"`
	Comment     *string     `json:"comment,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	EpStatus    int         `json:"ep_status"`
	VolStatus   int         `json:"vol_status"`
	UpdatedAt   string      `json:"updated_at,omitempty"`
	Private     bool        `json:"private"`
	Subject     Subject     `json:"subject"`
}

// Snapshot is the full collection as fetched in one run.
type Snapshot struct {
	Items []Item `json:"data"`
	Total int    `json:"total"`
}

// Len reports the number of fetched items, which may be below Total.
func (s Snapshot) Len() int {
	return len(s.Items)
}

// SubjectIDs returns the survivor set of the snapshot.
func (s Snapshot) SubjectIDs() map[int]struct{} {
	ids := make(map[int]struct{}, len(s.Items))
	for _, item := range s.Items {
		ids[item.SubjectID] = struct{}{}
	}
	return ids
}

// Rating is the aggregated community rating of a subject.
type Rating struct {
	Rank  int     `json:"rank"`
	Total int     `json:"total"`
	Score float64 `json:"score"`
}

// SubjectDetail carries the fields only available from the subject endpoint.
type SubjectDetail struct {
	ID     int     `json:"id"`
	Date   string  `json:"date,omitempty"`
	Rating *Rating `json:"rating,omitempty"`
	Tags   []Tag   `json:"tags,omitempty"`
}

// TagNames returns the distinct non-empty tag names in order.
func (d SubjectDetail) TagNames() []string {
	seen := make(map[string]struct{}, len(d.Tags))
	out := make([]string, 0, len(d.Tags))
	for _, tag := range d.Tags {
		if tag.Name == "" {
			continue
		}
		if _, ok := seen[tag.Name]; ok {
			continue
		}
		seen[tag.Name] = struct{}{}
		out = append(out, tag.Name)
	}
	return out
}

func sortedIDs(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
