// Package notify fans mutation outcomes out to user notification rows.
// Dispatch runs after the mutation transaction commits and is best effort:
// a failed insert is logged and never unwinds the committed write.
package notify

import (
	"context"
	"log"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"taskline/internal/domain"
	"taskline/internal/repo"
)

type Dispatcher struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(r repo.Repo) Dispatcher {
	return Dispatcher{Repo: r, Now: time.Now}
}

func (d Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)

// Mentions extracts @-mentioned user ids from comment content, in order of
// first appearance, without duplicates.
func Mentions(content string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// TaskEvent notifies everyone assigned to the task (any role) except the
// actor. Recipients are deduplicated and sorted so dispatch order is stable.
func (d Dispatcher) TaskEvent(ctx context.Context, t domain.Task, action, actorID string) {
	assignments, err := d.Repo.ListAssignments(ctx, t.ID)
	if err != nil {
		log.Printf("notify: list assignments for task %s: %v", t.ID, err)
		return
	}
	var recipients []string
	for _, a := range assignments {
		recipients = append(recipients, a.UserID)
	}
	d.deliver(ctx, dedupe(recipients, actorID), domain.NotifyTask, "Task "+action+": "+t.Title, "", map[string]any{
		"task_id": t.ID,
		"team_id": t.TeamID,
		"action":  action,
	})
}

// CommentEvent notifies the task's owner, everyone who commented on the
// thread, and anyone @-mentioned in the comment body, except the author.
// Mentioned users receive a mention notification; the rest a task one.
func (d Dispatcher) CommentEvent(ctx context.Context, t domain.Task, c domain.Comment) {
	mentioned := Mentions(c.Content)
	isMention := map[string]bool{}
	for _, id := range mentioned {
		isMention[id] = true
	}
	assignments, err := d.Repo.ListAssignments(ctx, t.ID)
	if err != nil {
		log.Printf("notify: list assignments for task %s: %v", t.ID, err)
		return
	}
	authors, err := d.Repo.CommentAuthors(ctx, t.ID)
	if err != nil {
		log.Printf("notify: list comment authors for task %s: %v", t.ID, err)
		return
	}
	var recipients []string
	for _, a := range assignments {
		if a.Role == domain.RoleOwner {
			recipients = append(recipients, a.UserID)
		}
	}
	recipients = append(recipients, authors...)
	recipients = append(recipients, mentioned...)
	contextMap := map[string]any{
		"task_id":    t.ID,
		"comment_id": c.ID,
	}
	for _, id := range dedupe(recipients, c.AuthorID) {
		typ := domain.NotifyTask
		title := "New comment on: " + t.Title
		if isMention[id] {
			typ = domain.NotifyMention
			title = "You were mentioned on: " + t.Title
		}
		d.deliver(ctx, []string{id}, typ, title, c.Content, contextMap)
	}
}

func (d Dispatcher) deliver(ctx context.Context, recipients []string, typ, title, content string, contextMap map[string]any) {
	ts := d.now().UTC().Format(time.RFC3339)
	for _, id := range recipients {
		n := domain.Notification{
			ID:          uuid.New().String(),
			RecipientID: id,
			Type:        typ,
			Title:       title,
			Content:     content,
			Context:     contextMap,
			CreatedAt:   ts,
		}
		if err := d.Repo.InsertNotification(ctx, n); err != nil {
			log.Printf("notify: insert notification for %s: %v", id, err)
		}
	}
}

func dedupe(ids []string, exclude string) []string {
	seen := map[string]bool{exclude: true}
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
