package store

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/vasu-devs/Socratis/internal/model"
)

func TestMongoDocumentRoundTrip(t *testing.T) {
	sess := testSession("s1")
	sess.Status = model.StatusCompleted
	sess.Feedback = &model.Report{
		OverallScore:    7,
		DimensionScores: model.UniformScores(7),
		CodeIssues:      []model.CodeIssue{{LineNumber: 3, Issue: "off by one", Severity: model.SeverityWarning}},
	}
	sess.Version = 4

	doc := toDoc(sess)
	if doc.ID != "s1" || !doc.HasFeedback || doc.Status != "completed" || doc.Version != 4 {
		t.Fatalf("unexpected lifted fields: %+v", doc)
	}

	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("bson.Marshal: %v", err)
	}
	var back sessionDoc
	if err := bson.Unmarshal(raw, &back); err != nil {
		t.Fatalf("bson.Unmarshal: %v", err)
	}
	if back.Session == nil || back.Session.Feedback == nil {
		t.Fatal("embedded session or feedback lost")
	}
	if back.Session.Feedback.CodeIssues[0].Issue != "off by one" {
		t.Errorf("code issue = %q", back.Session.Feedback.CodeIssues[0].Issue)
	}
	if back.Session.Question.Title != "Q1" {
		t.Errorf("question title = %q", back.Session.Question.Title)
	}
}
