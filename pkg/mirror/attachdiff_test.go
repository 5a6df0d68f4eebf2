package mirror

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"taskrelay/pkg/media"
)

func img(url string) media.Attachment {
	return media.Attachment{Kind: media.KindImage, URL: url}
}

func video(url string) media.Attachment {
	return media.Attachment{Kind: media.KindVideoLink, URL: url}
}

func doc(url string) media.Attachment {
	return media.Attachment{Kind: media.KindDocument, URL: url}
}

func TestComputeDiffPlanOnlyChangedItemIsEdited(t *testing.T) {
	prev := []media.Attachment{img("a"), video("b")}
	next := []media.Attachment{img("a2"), video("b")}

	plan := ComputeDiffPlan(prev, next, []int64{10, 11})

	want := DiffPlan{Ops: []Op{
		{Kind: OpEdit, Index: 0, MessageID: 10, Item: img("a2")},
		{Kind: OpKeep, Index: 1, MessageID: 11, Item: video("b")},
	}}
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, plan.Count(OpEdit))
	assert.Zero(t, plan.Count(OpSend))
	assert.Zero(t, plan.Count(OpDelete))
}

func TestComputeDiffPlan(t *testing.T) {
	tests := []struct {
		name       string
		prev, next []media.Attachment
		ids        []int64
		want       DiffPlan
	}{
		{
			name: "empty next deletes everything",
			prev: []media.Attachment{img("a"), doc("b")},
			ids:  []int64{1, 2},
			want: DiffPlan{Ops: []Op{
				{Kind: OpDelete, MessageID: 1},
				{Kind: OpDelete, MessageID: 2},
			}},
		},
		{
			name: "no previous ids sends fresh",
			prev: []media.Attachment{img("a")},
			next: []media.Attachment{img("a"), doc("b")},
			want: DiffPlan{Ops: []Op{
				{Kind: OpSend, Index: 0, Item: img("a")},
				{Kind: OpSend, Index: 1, Item: doc("b")},
			}},
		},
		{
			name: "kind mismatch resends all",
			prev: []media.Attachment{img("a"), doc("b")},
			next: []media.Attachment{img("a"), video("b")},
			ids:  []int64{1, 2},
			want: DiffPlan{FullResend: true, Ops: []Op{
				{Kind: OpDelete, MessageID: 1},
				{Kind: OpDelete, MessageID: 2},
				{Kind: OpSend, Index: 0, Item: img("a")},
				{Kind: OpSend, Index: 1, Item: video("b")},
			}},
		},
		{
			name: "id count mismatch resends all",
			prev: []media.Attachment{img("a"), img("b")},
			next: []media.Attachment{img("a"), img("b")},
			ids:  []int64{1},
			want: DiffPlan{FullResend: true, Ops: []Op{
				{Kind: OpDelete, MessageID: 1},
				{Kind: OpSend, Index: 0, Item: img("a")},
				{Kind: OpSend, Index: 1, Item: img("b")},
			}},
		},
		{
			name: "surplus previous deleted",
			prev: []media.Attachment{img("a"), img("b"), img("c")},
			next: []media.Attachment{img("a")},
			ids:  []int64{1, 2, 3},
			want: DiffPlan{Ops: []Op{
				{Kind: OpDelete, MessageID: 2},
				{Kind: OpDelete, MessageID: 3},
				{Kind: OpKeep, Index: 0, MessageID: 1, Item: img("a")},
			}},
		},
		{
			name: "surplus next sent",
			prev: []media.Attachment{doc("a")},
			next: []media.Attachment{doc("a"), img("b")},
			ids:  []int64{1},
			want: DiffPlan{Ops: []Op{
				{Kind: OpKeep, Index: 0, MessageID: 1, Item: doc("a")},
				{Kind: OpSend, Index: 1, Item: img("b")},
			}},
		},
		{
			name: "caption change is an edit",
			prev: []media.Attachment{{Kind: media.KindImage, URL: "a", Caption: "x"}},
			next: []media.Attachment{{Kind: media.KindImage, URL: "a", Caption: "y"}},
			ids:  []int64{7},
			want: DiffPlan{Ops: []Op{
				{Kind: OpEdit, Index: 0, MessageID: 7, Item: media.Attachment{Kind: media.KindImage, URL: "a", Caption: "y"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDiffPlan(tt.prev, tt.next, tt.ids)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
