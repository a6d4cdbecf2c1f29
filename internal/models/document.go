// internal/models/document.go
package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	// DefaultDocumentName 未命名项目的名称
	DefaultDocumentName = "Untitled Story"
	// StarterDocumentName 首次启动或删除最后一个项目后自动创建的项目名称
	StarterDocumentName = "New Story"
	// WelcomeMessage 新项目的第一条助手消息
	WelcomeMessage = "Tell me your story idea. I will keep the storyboard updated as we chat."
)

// Document 一个项目的完整持久化状态
type Document struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	Messages   []ChatMessage `json:"messages"`
	Storyboard Storyboard    `json:"storyboard"`
	Entities   Entities      `json:"entities"`
}

// DocumentSummary 项目列表条目
type DocumentSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatMessage 对话日志条目，只追加不修改
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Storyboard 三幕八序列结构
type Storyboard struct {
	Acts       []Act      `json:"acts"`
	StoryBeats StoryBeats `json:"storyBeats"`
}

// Act 幕，编号与标题在创建时固定
type Act struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Sequences []Sequence `json:"sequences"`
}

// Sequence 序列，编号全局唯一
type Sequence struct {
	Number int     `json:"number"`
	Title  string  `json:"title"`
	Scenes []Scene `json:"scenes"`
}

// Scene 分镜场景
type Scene struct {
	ID                string         `json:"id"`
	SceneNumber       string         `json:"sceneNumber"`
	Title             string         `json:"title"`
	Location          string         `json:"location"`
	Time              string         `json:"time"`
	VisualDescription string         `json:"visualDescription"`
	Action            string         `json:"action"`
	Dialogue          []DialogueLine `json:"dialogue"`
	Mood              string         `json:"mood"`
	StoryFunction     string         `json:"storyFunction"`
	CharacterIDs      []string       `json:"characterIds"`
	LocationIDs       []string       `json:"locationIds"`
	ImageURL          *string        `json:"imageUrl"`
}

// DialogueLine 一行台词
type DialogueLine struct {
	Character string `json:"character"`
	Line      string `json:"line"`
}

// StoryBeats 可选的故事节拍
type StoryBeats struct {
	OpeningImage     *string `json:"openingImage"`
	StatusQuo        *string `json:"statusQuo"`
	IncitingIncident *string `json:"incitingIncident"`
	LockIn           *string `json:"lockIn"`
	Midpoint         *string `json:"midpoint"`
	Crisis           *string `json:"crisis"`
	Climax           *string `json:"climax"`
	Resolution       *string `json:"resolution"`
}

// Entities 角色与地点注册表
type Entities struct {
	Characters []Character `json:"characters"`
	Locations  []Location  `json:"locations"`
}

// Character 角色
type Character struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Description             string `json:"description"`
	VisualPromptDescription string `json:"visualPromptDescription"`
	Role                    string `json:"role"`
	FirstAppearance         string `json:"firstAppearance"`
	Color                   string `json:"color"`
}

// Location 地点
type Location struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Description             string `json:"description"`
	VisualPromptDescription string `json:"visualPromptDescription"`
	Mood                    string `json:"mood"`
}

// Settings 应用设置
type Settings struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model"`
}

// DefaultModel 未配置模型时使用
const DefaultModel = "anthropic/claude-sonnet-4"

// DefaultSettings 返回默认设置
func DefaultSettings() Settings {
	return Settings{Model: DefaultModel}
}

var entityIDPattern = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveEntityID 由名称推导角色/地点 ID，结果对同一名称稳定
func DeriveEntityID(name string) string {
	id := entityIDPattern.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(id, "_")
}

// NewDocumentID 生成项目 ID
func NewDocumentID(now time.Time) string {
	return fmt.Sprintf("proj_%d_%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:5])
}

// NewStoryboard 创建预置三幕八序列的空分镜
func NewStoryboard() Storyboard {
	seq := func(number int, title string) Sequence {
		return Sequence{Number: number, Title: title, Scenes: []Scene{}}
	}
	return Storyboard{
		Acts: []Act{
			{Number: 1, Title: "SETUP", Sequences: []Sequence{
				seq(1, "Status Quo + Inciting Incident"),
				seq(2, "Reaction + Lock-In"),
			}},
			{Number: 2, Title: "CONFRONTATION", Sequences: []Sequence{
				seq(3, "New World / First Attempts"),
				seq(4, "Midpoint Shift / Revelation"),
				seq(5, "Escalation / Complications"),
				seq(6, "Crisis / Low Point"),
			}},
			{Number: 3, Title: "RESOLUTION", Sequences: []Sequence{
				seq(7, "Climax / Final Confrontation"),
				seq(8, "Denouement / New Normal"),
			}},
		},
	}
}

// NewDocument 创建新项目，包含欢迎消息
func NewDocument(name string, now time.Time) *Document {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultDocumentName
	}
	return &Document{
		ID:        NewDocumentID(now),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Messages: []ChatMessage{
			{Role: RoleAssistant, Content: WelcomeMessage, Timestamp: now},
		},
		Storyboard: NewStoryboard(),
		Entities:   Entities{Characters: []Character{}, Locations: []Location{}},
	}
}

// Summary 返回列表条目
func (d *Document) Summary() DocumentSummary {
	return DocumentSummary{ID: d.ID, Name: d.Name, UpdatedAt: d.UpdatedAt}
}

// AppendMessage 追加一条消息
func (d *Document) AppendMessage(role, content string, at time.Time) {
	d.Messages = append(d.Messages, ChatMessage{Role: role, Content: content, Timestamp: at})
}

// FindSequence 按幕编号和序列编号定位序列
func (s *Storyboard) FindSequence(actNumber, sequenceNumber int) *Sequence {
	for i := range s.Acts {
		act := &s.Acts[i]
		if act.Number != actNumber {
			continue
		}
		for j := range act.Sequences {
			if act.Sequences[j].Number == sequenceNumber {
				return &act.Sequences[j]
			}
		}
		return nil
	}
	return nil
}

// FindScene 在所有幕与序列中查找场景
func (s *Storyboard) FindScene(id string) *Scene {
	for i := range s.Acts {
		for j := range s.Acts[i].Sequences {
			scenes := s.Acts[i].Sequences[j].Scenes
			for k := range scenes {
				if scenes[k].ID == id {
					return &scenes[k]
				}
			}
		}
	}
	return nil
}

// SceneCount 场景总数
func (s *Storyboard) SceneCount() int {
	n := 0
	for _, act := range s.Acts {
		for _, seq := range act.Sequences {
			n += len(seq.Scenes)
		}
	}
	return n
}

// FindCharacter 按 ID 查找角色
func (e *Entities) FindCharacter(id string) *Character {
	for i := range e.Characters {
		if e.Characters[i].ID == id {
			return &e.Characters[i]
		}
	}
	return nil
}

// FindLocation 按 ID 查找地点
func (e *Entities) FindLocation(id string) *Location {
	for i := range e.Locations {
		if e.Locations[i].ID == id {
			return &e.Locations[i]
		}
	}
	return nil
}
