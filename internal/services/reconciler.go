// internal/services/reconciler.go
package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sumanurawat/storyboarder/internal/models"
)

const (
	defaultSceneTitle    = "Untitled Scene"
	defaultCharacterRole = "Supporting"
)

// characterPalette 角色强调色，按注册表当前长度轮换
var characterPalette = []string{"#E8B4E8", "#B4D4E8", "#B4E8C8", "#E8D4B4", "#D4B4E8", "#E8B4B4"}

// ReconcileReport 一次合并的统计
type ReconcileReport struct {
	CharactersAdded   int `json:"charactersAdded"`
	CharactersUpdated int `json:"charactersUpdated"`
	LocationsAdded    int `json:"locationsAdded"`
	LocationsUpdated  int `json:"locationsUpdated"`
	ScenesAdded       int `json:"scenesAdded"`
	ScenesUpdated     int `json:"scenesUpdated"`
	ScenesRemoved     int `json:"scenesRemoved"`
	Skipped           int `json:"skipped"`
}

// Fields 转为日志字段
func (r ReconcileReport) Fields() logrus.Fields {
	return logrus.Fields{
		"characters_added":   r.CharactersAdded,
		"characters_updated": r.CharactersUpdated,
		"locations_added":    r.LocationsAdded,
		"locations_updated":  r.LocationsUpdated,
		"scenes_added":       r.ScenesAdded,
		"scenes_updated":     r.ScenesUpdated,
		"scenes_removed":     r.ScenesRemoved,
		"skipped":            r.Skipped,
	}
}

// Reconciler 将更新信封合并进文档
type Reconciler struct {
	Now        func() time.Time
	NewSceneID func() string
}

// NewReconciler 创建使用系统时钟与随机场景 ID 的合并器
func NewReconciler() *Reconciler {
	return &Reconciler{
		Now:        time.Now,
		NewSceneID: newSceneID,
	}
}

func newSceneID() string {
	return "scene_" + uuid.NewString()[:8]
}

// Apply 返回合并后的新文档，不修改传入的文档
//
// 合并顺序固定：角色、地点、新增场景、更新场景、删除场景、重新编号、更新时间戳。
// 无效或引用不存在目标的条目被单独跳过，不影响同批次的其他条目
func (r *Reconciler) Apply(doc *models.Document, env models.UpdateEnvelope) (*models.Document, ReconcileReport) {
	next := doc.Clone()
	if next == nil {
		next = models.NewDocument("", r.now())
	}
	var report ReconcileReport

	r.applyCharacters(next, env, &report)
	r.applyLocations(next, env, &report)
	r.applySceneAdds(next, env, &report)
	r.applySceneUpdates(next, env, &report)
	r.applySceneRemovals(next, env, &report)
	RenumberScenes(&next.Storyboard)

	next.UpdatedAt = r.now()
	return next, report
}

func (r *Reconciler) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Reconciler) sceneID() string {
	if r.NewSceneID == nil {
		return newSceneID()
	}
	return r.NewSceneID()
}

func (r *Reconciler) applyCharacters(doc *models.Document, env models.UpdateEnvelope, report *ReconcileReport) {
	entities := &doc.Entities
	for _, draft := range env.CharactersAdd {
		name := draft.Name.String()
		id := models.DeriveEntityID(name)
		if name == "" || id == "" || entities.FindCharacter(id) != nil {
			report.Skipped++
			continue
		}
		entities.Characters = append(entities.Characters, models.Character{
			ID:                      id,
			Name:                    name,
			Description:             string(draft.Description),
			VisualPromptDescription: string(draft.VisualPromptDescription),
			Role:                    draft.Role.Or(defaultCharacterRole),
			FirstAppearance:         "",
			Color:                   characterPalette[len(entities.Characters)%len(characterPalette)],
		})
		report.CharactersAdded++
	}

	for _, patch := range env.CharactersUpdate {
		target := entities.FindCharacter(patch.ID.String())
		if patch.ID.String() == "" || target == nil {
			report.Skipped++
			continue
		}
		c := patch.Changes
		mergeString(&target.Name, c.Name)
		mergeString(&target.Description, c.Description)
		mergeString(&target.VisualPromptDescription, c.VisualPromptDescription)
		mergeString(&target.Role, c.Role)
		mergeString(&target.FirstAppearance, c.FirstAppearance)
		mergeString(&target.Color, c.Color)
		report.CharactersUpdated++
	}
}

func (r *Reconciler) applyLocations(doc *models.Document, env models.UpdateEnvelope, report *ReconcileReport) {
	entities := &doc.Entities
	for _, draft := range env.LocationsAdd {
		name := draft.Name.String()
		id := models.DeriveEntityID(name)
		if name == "" || id == "" || entities.FindLocation(id) != nil {
			report.Skipped++
			continue
		}
		entities.Locations = append(entities.Locations, models.Location{
			ID:                      id,
			Name:                    name,
			Description:             string(draft.Description),
			VisualPromptDescription: string(draft.VisualPromptDescription),
			Mood:                    string(draft.Mood),
		})
		report.LocationsAdded++
	}

	for _, patch := range env.LocationsUpdate {
		target := entities.FindLocation(patch.ID.String())
		if patch.ID.String() == "" || target == nil {
			report.Skipped++
			continue
		}
		c := patch.Changes
		mergeString(&target.Name, c.Name)
		mergeString(&target.Description, c.Description)
		mergeString(&target.VisualPromptDescription, c.VisualPromptDescription)
		mergeString(&target.Mood, c.Mood)
		report.LocationsUpdated++
	}
}

func (r *Reconciler) applySceneAdds(doc *models.Document, env models.UpdateEnvelope, report *ReconcileReport) {
	for _, draft := range env.ScenesAdd {
		actNumber, okAct := draft.Act.Resolve(1)
		seqNumber, okSeq := draft.Sequence.Resolve(1)
		if !okAct || !okSeq {
			report.Skipped++
			continue
		}
		seq := doc.Storyboard.FindSequence(actNumber, seqNumber)
		if seq == nil {
			report.Skipped++
			continue
		}
		seq.Scenes = append(seq.Scenes, models.Scene{
			ID:                r.sceneID(),
			Title:             draft.Title.Or(defaultSceneTitle),
			Location:          string(draft.Location),
			Time:              string(draft.Time),
			VisualDescription: string(draft.VisualDescription),
			Action:            string(draft.Action),
			Dialogue:          draft.Dialogue.DialogueLines(),
			Mood:              string(draft.Mood),
			StoryFunction:     string(draft.StoryFunction),
			CharacterIDs:      draft.CharacterIDs.IDSet(),
			LocationIDs:       draft.LocationIDs.IDSet(),
			ImageURL:          nil,
		})
		report.ScenesAdded++
	}
}

func (r *Reconciler) applySceneUpdates(doc *models.Document, env models.UpdateEnvelope, report *ReconcileReport) {
	for _, patch := range env.ScenesUpdate {
		id := patch.SceneID.String()
		scene := doc.Storyboard.FindScene(id)
		if id == "" || scene == nil {
			report.Skipped++
			continue
		}
		c := patch.Changes
		if c.Dialogue.Present() {
			scene.Dialogue = c.Dialogue.DialogueLines()
		}
		if c.CharacterIDs.Present() {
			scene.CharacterIDs = c.CharacterIDs.IDSet()
		}
		if c.LocationIDs.Present() {
			scene.LocationIDs = c.LocationIDs.IDSet()
		}
		mergeString(&scene.Title, c.Title)
		mergeString(&scene.Location, c.Location)
		mergeString(&scene.Time, c.Time)
		mergeString(&scene.VisualDescription, c.VisualDescription)
		mergeString(&scene.Action, c.Action)
		mergeString(&scene.Mood, c.Mood)
		mergeString(&scene.StoryFunction, c.StoryFunction)
		if c.ImageURL != nil {
			url := string(*c.ImageURL)
			scene.ImageURL = &url
		}
		report.ScenesUpdated++
	}
}

func (r *Reconciler) applySceneRemovals(doc *models.Document, env models.UpdateEnvelope, report *ReconcileReport) {
	if len(env.ScenesRemove) == 0 {
		return
	}
	remove := make(map[string]struct{}, len(env.ScenesRemove))
	for _, id := range env.ScenesRemove {
		if key := strings.TrimSpace(string(id)); key != "" {
			remove[key] = struct{}{}
		}
	}
	for i := range doc.Storyboard.Acts {
		act := &doc.Storyboard.Acts[i]
		for j := range act.Sequences {
			seq := &act.Sequences[j]
			kept := seq.Scenes[:0]
			for _, scene := range seq.Scenes {
				if _, ok := remove[scene.ID]; ok {
					report.ScenesRemoved++
					continue
				}
				kept = append(kept, scene)
			}
			seq.Scenes = kept
		}
	}
}

// RenumberScenes 按当前位置重新计算每个场景的编号 "<幕>.<序列>.<位置>"
func RenumberScenes(storyboard *models.Storyboard) {
	for i := range storyboard.Acts {
		act := &storyboard.Acts[i]
		for j := range act.Sequences {
			seq := &act.Sequences[j]
			for k := range seq.Scenes {
				seq.Scenes[k].SceneNumber = fmt.Sprintf("%d.%d.%d", act.Number, seq.Number, k+1)
			}
		}
	}
}

func mergeString(dst *string, v *models.FlexString) {
	if v != nil {
		*dst = string(*v)
	}
}
