// internal/models/document_copy.go
package models

import (
	"strings"
	"time"
)

// Clone 深拷贝文档，副本与原文档不共享任何切片或指针
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Messages = append([]ChatMessage{}, d.Messages...)
	out.Storyboard = d.Storyboard.Clone()
	out.Entities = Entities{
		Characters: append([]Character{}, d.Entities.Characters...),
		Locations:  append([]Location{}, d.Entities.Locations...),
	}
	return &out
}

// Clone 深拷贝分镜
func (s Storyboard) Clone() Storyboard {
	out := Storyboard{
		Acts:       make([]Act, len(s.Acts)),
		StoryBeats: s.StoryBeats.clone(),
	}
	for i, act := range s.Acts {
		act.Sequences = append([]Sequence(nil), act.Sequences...)
		for j := range act.Sequences {
			scenes := make([]Scene, len(act.Sequences[j].Scenes))
			for k, scene := range act.Sequences[j].Scenes {
				scenes[k] = scene.Clone()
			}
			act.Sequences[j].Scenes = scenes
		}
		out.Acts[i] = act
	}
	return out
}

// Clone 深拷贝场景
func (s Scene) Clone() Scene {
	s.Dialogue = append([]DialogueLine{}, s.Dialogue...)
	s.CharacterIDs = append([]string{}, s.CharacterIDs...)
	s.LocationIDs = append([]string{}, s.LocationIDs...)
	s.ImageURL = cloneString(s.ImageURL)
	return s
}

func (b StoryBeats) clone() StoryBeats {
	return StoryBeats{
		OpeningImage:     cloneString(b.OpeningImage),
		StatusQuo:        cloneString(b.StatusQuo),
		IncitingIncident: cloneString(b.IncitingIncident),
		LockIn:           cloneString(b.LockIn),
		Midpoint:         cloneString(b.Midpoint),
		Crisis:           cloneString(b.Crisis),
		Climax:           cloneString(b.Climax),
		Resolution:       cloneString(b.Resolution),
	}
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NormalizeDocument 为缺失字段补默认值，用于加载旧版本或不完整的数据
func NormalizeDocument(d *Document, now time.Time) *Document {
	if d == nil {
		return nil
	}
	if strings.TrimSpace(d.Name) == "" {
		d.Name = DefaultDocumentName
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	if d.Messages == nil {
		d.Messages = []ChatMessage{}
	}
	if len(d.Storyboard.Acts) == 0 {
		beats := d.Storyboard.StoryBeats
		d.Storyboard = NewStoryboard()
		d.Storyboard.StoryBeats = beats
	}
	for i := range d.Storyboard.Acts {
		act := &d.Storyboard.Acts[i]
		for j := range act.Sequences {
			seq := &act.Sequences[j]
			if seq.Scenes == nil {
				seq.Scenes = []Scene{}
			}
			for k := range seq.Scenes {
				scene := &seq.Scenes[k]
				if scene.Dialogue == nil {
					scene.Dialogue = []DialogueLine{}
				}
				if scene.CharacterIDs == nil {
					scene.CharacterIDs = []string{}
				}
				if scene.LocationIDs == nil {
					scene.LocationIDs = []string{}
				}
			}
		}
	}
	if d.Entities.Characters == nil {
		d.Entities.Characters = []Character{}
	}
	if d.Entities.Locations == nil {
		d.Entities.Locations = []Location{}
	}
	return d
}
