package recall

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/registry"
)

// Community hierarchy levels.
const (
	LevelTag      = 0
	LevelCategory = 1
)

// minCommunitySize is the smallest tag cluster worth summarizing.
const minCommunitySize = 2

// RebuildCommunities recomputes communities from tag co-occurrence
// (level 0) and category (level 1) and reindexes them.
func (s *Service) RebuildCommunities(ctx context.Context, p *registry.Project) ([]memory.Community, error) {
	recs, err := p.Store.QueryRecords(ctx, memory.Filter{})
	if err != nil {
		return nil, err
	}
	comms := BuildCommunities(recs)
	if err := p.Store.ReplaceCommunities(ctx, comms); err != nil {
		return nil, err
	}
	if err := p.ReindexCommunities(ctx); err != nil {
		return nil, err
	}
	s.logger.Debug("communities rebuilt", "project", p.Root, "communities", len(comms))
	return comms, nil
}

// CommunitiesStale reports whether records changed after the communities
// were last computed.
func (s *Service) CommunitiesStale(ctx context.Context, p *registry.Project) (bool, error) {
	comms, err := p.Store.ListCommunities(ctx)
	if err != nil {
		return false, err
	}
	last, err := p.Store.LastChange(ctx)
	if err != nil {
		return false, err
	}
	if len(comms) == 0 {
		return !last.IsZero(), nil
	}
	built := comms[0].UpdatedAt
	for _, c := range comms[1:] {
		if c.UpdatedAt.After(built) {
			built = c.UpdatedAt
		}
	}
	return last.After(built), nil
}

// BuildCommunities clusters recs, which are expected newest first.
func BuildCommunities(recs []memory.Record) []memory.Community {
	byTag := make(map[string][]int)
	byCat := make(map[memory.Category][]int)
	for i := range recs {
		for _, t := range recs[i].Tags {
			byTag[t] = append(byTag[t], i)
		}
		byCat[recs[i].Category] = append(byCat[recs[i].Category], i)
	}

	var out []memory.Community
	tags := make([]string, 0, len(byTag))
	for t := range byTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		members := byTag[tag]
		if len(members) < minCommunitySize {
			continue
		}
		related := topTags(recs, members, tag, 3)
		out = append(out, memory.Community{
			Name:      tag,
			Level:     LevelTag,
			Summary:   summarize(recs, members, fmt.Sprintf("%d records tagged %q", len(members), tag)),
			Tags:      append([]string{tag}, related...),
			MemberIDs: ids(recs, members),
		})
	}

	for _, cat := range []memory.Category{memory.CategoryDecision, memory.CategoryPattern, memory.CategoryWarning, memory.CategoryLearning} {
		members := byCat[cat]
		if len(members) == 0 {
			continue
		}
		out = append(out, memory.Community{
			Name:      string(cat) + "s",
			Level:     LevelCategory,
			Summary:   summarize(recs, members, fmt.Sprintf("%d %s records", len(members), cat)),
			Tags:      topTags(recs, members, "", 5),
			MemberIDs: ids(recs, members),
		})
	}
	return out
}

func ids(recs []memory.Record, members []int) []int64 {
	out := make([]int64, len(members))
	for i, m := range members {
		out[i] = recs[m].ID
	}
	return out
}

// topTags returns the n most frequent tags among members, skipping
// exclude. Ties break alphabetically.
func topTags(recs []memory.Record, members []int, exclude string, n int) []string {
	counts := make(map[string]int)
	for _, m := range members {
		for _, t := range recs[m].Tags {
			if t != exclude {
				counts[t]++
			}
		}
	}
	out := make([]string, 0, len(counts))
	for t := range counts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func summarize(recs []memory.Record, members []int, head string) string {
	var b strings.Builder
	b.WriteString(head)
	b.WriteString(". ")
	for i, m := range members {
		if i == 3 {
			break
		}
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(memory.Truncate(recs[m].Content, 80))
	}
	return b.String()
}
