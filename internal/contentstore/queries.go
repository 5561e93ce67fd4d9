package contentstore

import "fmt"

// ArticleByIDQuery returns the article document with the given id, or null.
func ArticleByIDQuery(docType string) string {
	return fmt.Sprintf(`*[_type == %q && _id == $id][0]`, docType)
}

// SlugCountQuery counts articles already using a slug.
func SlugCountQuery(docType string) string {
	return fmt.Sprintf(`count(*[_type == %q && slug.current == $slug])`, docType)
}
