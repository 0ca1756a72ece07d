package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/schema"
)

func TestParseColumnPaths(t *testing.T) {
	sel := ParseColumnPaths(nil)
	assert.True(t, sel.BaseAll)
	assert.Empty(t, sel.Tree)

	sel = ParseColumnPaths([]string{"id", "email", "posts.title", "posts.author.email", "roles.*"})
	assert.False(t, sel.BaseAll)
	assert.Equal(t, map[string]struct{}{"id": {}, "email": {}}, sel.Base)
	require.Contains(t, sel.Tree, "posts")
	assert.Equal(t, map[string]struct{}{"title": {}}, sel.Tree["posts"].Fields)
	require.Contains(t, sel.Tree["posts"].Nested, "author")
	assert.Equal(t, map[string]struct{}{"email": {}}, sel.Tree["posts"].Nested["author"].Fields)
	require.Contains(t, sel.Tree, "roles")
	assert.True(t, sel.Tree["roles"].allFields())

	sel = ParseColumnPaths([]string{"*", "*.name"})
	assert.True(t, sel.BaseAll)
	assert.True(t, sel.RelWildcard)
	require.Contains(t, sel.Tree, "*")
	assert.Equal(t, map[string]struct{}{"name": {}}, sel.Tree["*"].Fields)
}

func TestExpandWildcards(t *testing.T) {
	c := testCompiler(t)

	tree, err := c.ExpandWildcards(ParseColumnPaths([]string{"*.*"}).Tree, "users", map[string]bool{})
	require.NoError(t, err)
	assert.Len(t, tree, 2)
	assert.Contains(t, tree, "posts")
	assert.Contains(t, tree, "roles")
	assert.True(t, tree["posts"].allFields())

	// An explicit path refines the wildcard expansion instead of
	// duplicating the node.
	tree, err = c.ExpandWildcards(ParseColumnPaths([]string{"*.id", "posts.title"}).Tree, "users", map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"id": {}, "title": {}}, tree["posts"].Fields)
	assert.Equal(t, map[string]struct{}{"id": {}}, tree["roles"].Fields)

	_, err = c.ExpandWildcards(map[string]*Node{"nope": newNode()}, "users", map[string]bool{})
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrUnknownRelation)
}

func TestExpandWildcardsCyclicSchema(t *testing.T) {
	// users <-> posts reference each other; expansion must not revisit an
	// ancestor table on the same branch.
	c := testCompiler(t)

	tree, err := c.ExpandWildcards(ParseColumnPaths([]string{"*.*.*"}).Tree, "users", map[string]bool{})
	require.NoError(t, err)
	require.Contains(t, tree, "posts")
	// posts' author relation points back at users, an ancestor on this
	// branch; only comments survives the expansion.
	assert.Equal(t, []string{"comments"}, sortedKeys(tree["posts"].Nested))
	assert.Empty(t, tree["posts"].Nested["comments"].Nested)
	assert.Empty(t, tree["roles"].Nested)
}

func buildSelection(t *testing.T, table string, paths []string) (*sql.Selector, *Plan) {
	t.Helper()
	c := testCompiler(t)
	s := sql.Dialect(dialect.SQLite).Select()
	plan, err := c.BuildSelection(s, table, ParseColumnPaths(paths))
	require.NoError(t, err)
	return s, plan
}

func TestBuildSelectionBase(t *testing.T) {
	s, _ := buildSelection(t, "users", nil)
	query, args := s.Query()
	assert.Equal(t,
		"SELECT `users`.`id` AS `id`, `users`.`email` AS `email`, `users`.`status` AS `status` FROM `users`",
		query)
	assert.Empty(t, args)

	// The primary key rides along even when not requested.
	s, _ = buildSelection(t, "users", []string{"email"})
	query, _ = s.Query()
	assert.Equal(t, "SELECT `users`.`id` AS `id`, `users`.`email` AS `email` FROM `users`", query)
}

func TestBuildSelectionScalarForeignKey(t *testing.T) {
	// An unexpanded belongs-to surfaces as a plain foreign key column.
	s, plan := buildSelection(t, "posts", nil)
	query, _ := s.Query()
	assert.Equal(t,
		"SELECT `posts`.`id` AS `id`, `posts`.`title` AS `title`, `posts`.`author` AS `author` FROM `posts`",
		query)
	assert.Equal(t, []string{"author"}, plan.fkRelations)

	// Expanding the relation drops the scalar in favor of the join.
	s, plan = buildSelection(t, "posts", []string{"*", "author.email"})
	query, _ = s.Query()
	assert.Equal(t,
		"SELECT `posts`.`id` AS `id`, `posts`.`title` AS `title`,"+
			" `posts_author`.`id` AS `posts_author_id`, `posts_author`.`email` AS `posts_author_email`"+
			" FROM `posts` LEFT JOIN `users` AS `posts_author` ON `posts_author`.`id` = `posts`.`author`",
		query)
	assert.Empty(t, plan.fkRelations)
}

func TestBuildSelectionHasMany(t *testing.T) {
	s, _ := buildSelection(t, "users", []string{"email", "posts.title"})
	query, _ := s.Query()
	assert.Equal(t,
		"SELECT `users`.`id` AS `id`, `users`.`email` AS `email`,"+
			" `users_posts`.`id` AS `users_posts_id`, `users_posts`.`title` AS `users_posts_title`"+
			" FROM `users` LEFT JOIN `posts` AS `users_posts` ON `users_posts`.`author` = `users`.`id`",
		query)
}

func TestBuildSelectionManyToMany(t *testing.T) {
	s, _ := buildSelection(t, "users", []string{"email", "roles.name"})
	query, _ := s.Query()
	assert.Equal(t,
		"SELECT `users`.`id` AS `id`, `users`.`email` AS `email`,"+
			" `users_roles`.`id` AS `users_roles_id`, `users_roles`.`name` AS `users_roles_name`"+
			" FROM `users`"+
			" LEFT JOIN `user_roles` AS `users_roles_via` ON `users_roles_via`.`user_id` = `users`.`id`"+
			" LEFT JOIN `roles` AS `users_roles` ON `users_roles`.`id` = `users_roles_via`.`role_id`",
		query)
}

func TestBuildSelectionBareRelationPath(t *testing.T) {
	// A bare relation name selects the whole related object.
	s, _ := buildSelection(t, "users", []string{"email", "posts"})
	query, _ := s.Query()
	assert.Equal(t,
		"SELECT `users`.`id` AS `id`, `users`.`email` AS `email`,"+
			" `users_posts`.`id` AS `users_posts_id`, `users_posts`.`title` AS `users_posts_title`"+
			" FROM `users` LEFT JOIN `posts` AS `users_posts` ON `users_posts`.`author` = `users`.`id`",
		query)
}

func TestBuildSelectionUnknownField(t *testing.T) {
	c := testCompiler(t)
	s := sql.Dialect(dialect.SQLite).Select()
	_, err := c.BuildSelection(s, "users", ParseColumnPaths([]string{"nope"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrUnknownField)
}

func TestReconstructHasMany(t *testing.T) {
	c := testCompiler(t)
	s := sql.Dialect(dialect.SQLite).Select()
	plan, err := c.BuildSelection(s, "users", ParseColumnPaths([]string{"email", "posts.title"}))
	require.NoError(t, err)

	rows := []map[string]any{
		{"id": int64(1), "email": "a@x.io", "users_posts_id": int64(10), "users_posts_title": "first"},
		{"id": int64(1), "email": "a@x.io", "users_posts_id": int64(11), "users_posts_title": "second"},
		{"id": int64(2), "email": "b@x.io", "users_posts_id": nil, "users_posts_title": nil},
	}
	out, err := c.Reconstruct(rows, plan)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, map[string]any{
		"id":    int64(1),
		"email": "a@x.io",
		"posts": []map[string]any{
			{"id": int64(10), "title": "first"},
			{"id": int64(11), "title": "second"},
		},
	}, out[0])
	assert.Equal(t, map[string]any{
		"id":    int64(2),
		"email": "b@x.io",
		"posts": []map[string]any{},
	}, out[1])
}

func TestReconstructDeduplicatesFanOut(t *testing.T) {
	// Two posts x two roles produce four flat rows for one user; each
	// relation folds back to its own two entries.
	c := testCompiler(t)
	s := sql.Dialect(dialect.SQLite).Select()
	plan, err := c.BuildSelection(s, "users", ParseColumnPaths([]string{"email", "posts.title", "roles.name"}))
	require.NoError(t, err)

	row := func(post int64, title string, role int64, name string) map[string]any {
		return map[string]any{
			"id": int64(1), "email": "a@x.io",
			"users_posts_id": post, "users_posts_title": title,
			"users_roles_id": role, "users_roles_name": name,
		}
	}
	rows := []map[string]any{
		row(10, "first", 100, "admin"),
		row(10, "first", 101, "editor"),
		row(11, "second", 100, "admin"),
		row(11, "second", 101, "editor"),
	}
	out, err := c.Reconstruct(rows, plan)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []map[string]any{
		{"id": int64(10), "title": "first"},
		{"id": int64(11), "title": "second"},
	}, out[0]["posts"])
	assert.Equal(t, []map[string]any{
		{"id": int64(100), "name": "admin"},
		{"id": int64(101), "name": "editor"},
	}, out[0]["roles"])
}

func TestReconstructBelongsTo(t *testing.T) {
	c := testCompiler(t)
	s := sql.Dialect(dialect.SQLite).Select()
	plan, err := c.BuildSelection(s, "posts", ParseColumnPaths([]string{"title", "author.email"}))
	require.NoError(t, err)

	rows := []map[string]any{
		{"id": int64(10), "title": "first", "posts_author_id": int64(1), "posts_author_email": "a@x.io"},
		{"id": int64(11), "title": "orphan", "posts_author_id": nil, "posts_author_email": nil},
	}
	out, err := c.Reconstruct(rows, plan)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, map[string]any{"id": int64(1), "email": "a@x.io"}, out[0]["author"])
	assert.Nil(t, out[1]["author"])
}

func TestReconstructScalarForeignKey(t *testing.T) {
	c := testCompiler(t)
	s := sql.Dialect(dialect.SQLite).Select()
	plan, err := c.BuildSelection(s, "posts", ParseColumnPaths(nil))
	require.NoError(t, err)

	rows := []map[string]any{
		{"id": int64(10), "title": "first", "author": int64(1)},
	}
	out, err := c.Reconstruct(rows, plan)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{"id": int64(10), "title": "first", "author": int64(1)}, out[0])
}

func TestReconstructNestedRelation(t *testing.T) {
	c := testCompiler(t)
	s := sql.Dialect(dialect.SQLite).Select()
	plan, err := c.BuildSelection(s, "users", ParseColumnPaths([]string{"email", "posts.title", "posts.comments.body"}))
	require.NoError(t, err)

	rows := []map[string]any{
		{
			"id": int64(1), "email": "a@x.io",
			"users_posts_id": int64(10), "users_posts_title": "first",
			"users_posts_comments_id": int64(100), "users_posts_comments_body": "nice",
		},
		{
			"id": int64(1), "email": "a@x.io",
			"users_posts_id": int64(10), "users_posts_title": "first",
			"users_posts_comments_id": int64(101), "users_posts_comments_body": "agreed",
		},
	}
	out, err := c.Reconstruct(rows, plan)
	require.NoError(t, err)
	require.Len(t, out, 1)
	posts, ok := out[0]["posts"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, posts, 1)
	assert.Equal(t, []map[string]any{
		{"id": int64(100), "body": "nice"},
		{"id": int64(101), "body": "agreed"},
	}, posts[0]["comments"])
}

func TestBuildSelectionSkipsRootBackReference(t *testing.T) {
	// posts.author points back at the base table and is never joined.
	s, _ := buildSelection(t, "users", []string{"email", "posts.title", "posts.author.email"})
	query, _ := s.Query()
	assert.Equal(t,
		"SELECT `users`.`id` AS `id`, `users`.`email` AS `email`,"+
			" `users_posts`.`id` AS `users_posts_id`, `users_posts`.`title` AS `users_posts_title`"+
			" FROM `users` LEFT JOIN `posts` AS `users_posts` ON `users_posts`.`author` = `users`.`id`",
		query)
}
