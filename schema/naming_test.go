package schema

import "testing"

func TestToDBName(t *testing.T) {
	maps := map[string]string{
		"":                          "",
		"X":                         "x",
		"ThisIsATest":               "this_is_a_test",
		"PFAndESI":                  "pf_and_esi",
		"AbcAndJkl":                 "abc_and_jkl",
		"EmployeeID":                "employee_id",
		"SKU_ID":                    "sku_id",
		"FieldX":                    "field_x",
		"HTTPAndSMTP":               "http_and_smtp",
		"HTTPServerHandlerForURLID": "http_server_handler_for_url_id",
		"UUID":                      "uuid",
		"HTTPURL":                   "http_url",
		"HTTP_URL":                  "http_url",
		"SharedWithUserID":          "shared_with_user_id",
	}

	for key, value := range maps {
		if ToDBName(key) != value {
			t.Errorf("%v ToDBName should equal %v, but got %v", key, value, ToDBName(key))
		}
	}
}

func TestNamingStrategy(t *testing.T) {
	ns := NamingStrategy{TablePrefix: "t_", SingularTable: true}

	if name := ns.TableName("Blog"); name != "t_blog" {
		t.Errorf("invalid table name generated, got %v", name)
	}
	if name := ns.ColumnName("", "CreatedAt"); name != "created_at" {
		t.Errorf("invalid column name generated, got %v", name)
	}
	if name := ns.JoinTableName("UserLanguage"); name != "t_user_language" {
		t.Errorf("invalid join table name generated, got %v", name)
	}

	ns = NamingStrategy{}
	if name := ns.TableName("Blog"); name != "blogs" {
		t.Errorf("invalid pluralized table name generated, got %v", name)
	}
	if name := ns.JoinTableName("sharedLanguages"); name != "shared_languages" {
		t.Errorf("invalid join table name generated, got %v", name)
	}
	if name := ns.JoinTableName("user_languages"); name != "user_languages" {
		t.Errorf("lowercase join table name should pass through, got %v", name)
	}
}

func TestSchemaName(t *testing.T) {
	ns := NamingStrategy{}
	if name := ns.SchemaName("blog_posts"); name != "BlogPost" {
		t.Errorf("invalid schema name generated, got %v", name)
	}

	ns = NamingStrategy{TablePrefix: "public_", SingularTable: true}
	if name := ns.SchemaName("public_blog_post"); name != "BlogPost" {
		t.Errorf("invalid schema name generated, got %v", name)
	}
}

func TestParseTagSetting(t *testing.T) {
	settings := ParseTagSetting("column:db_name;primaryKey;size:256;default:abc", ";")

	if settings["COLUMN"] != "db_name" {
		t.Errorf("invalid column setting, got %v", settings["COLUMN"])
	}
	if settings["PRIMARYKEY"] != "PRIMARYKEY" {
		t.Errorf("flag settings should keep their key as value, got %v", settings["PRIMARYKEY"])
	}
	if settings["SIZE"] != "256" {
		t.Errorf("invalid size setting, got %v", settings["SIZE"])
	}
	if settings["DEFAULT"] != "abc" {
		t.Errorf("invalid default setting, got %v", settings["DEFAULT"])
	}
}
