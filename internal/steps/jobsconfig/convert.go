package jobsconfig

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/steps/rowjson"
)

// SparkType marks a document in the current shape.
const SparkType = "sparkJobConfiguration"

// renames maps legacy keys to their current names.
var renames = [][2]string{
	{"JARPATH", "appPath"},
	{"ARGS", "args"},
	{"APPNAME", "appName"},
	{"MAINCLASS", "mainClass"},
	{"PROPERTIES", "properties"},
	{"QUEUE", "amQueue"},
	{"AMMEM", "amMemory"},
	{"AMCORS", "amVCores"},
	{"EXECMEM", "spark.executor.memory"},
	{"EXECCORES", "spark.executor.cores"},
	{"NUM_GPUS", "spark.executor.gpus"},
	{"NUMEXECS", "spark.executor.instances"},
	{"DYNEXECS", "spark.dynamicAllocation.enabled"},
	{"DYNEXECSMINSELECTED", "spark.dynamicAllocation.minExecutors"},
	{"DYNEXECSMAXSELECTED", "spark.dynamicAllocation.maxExecutors"},
	{"DYNEXECSINIT", "spark.dynamicAllocation.initialExecutors"},
}

// dropped keys have no current equivalent. Rollback restores them with
// these values.
var dropped = []struct {
	key   string
	value any
}{
	{"HISTORYSERVER", ""},
	{"PYSPARK_PYTHON", ""},
	{"PYLIB", ""},
	{"DYNEXECSMAX", 1500},
	{"DYNEXECSMIN", 1},
}

var scheduleKeys = [][2]string{{"NUMBER", "number"}, {"UNIT", "unit"}, {"START", "start"}}

var resourceKeys = [][2]string{
	{"NAME", "name"}, {"PATH", "path"}, {"VISIBILITY", "visibility"}, {"TYPE", "type"},
}

// legacyResourceKeys also restores the pattern some resources carry.
var legacyResourceKeys = [][2]string{
	{"NAME", "name"}, {"PATH", "path"}, {"VISIBILITY", "visibility"}, {"TYPE", "type"}, {"PATTERN", "pattern"},
}

func rename(obj rowjson.Object, from, to string) {
	if v, ok := obj[from]; ok {
		delete(obj, from)
		obj[to] = v
	}
}

// Forward converts a legacy Spark job document. Documents already of type
// sparkJobConfiguration and jobs of other kinds are left unchanged.
func Forward(obj rowjson.Object) (rowjson.Object, error) {
	kind, hasKind := obj["type"]
	switch kind {
	case SparkType:
		return nil, rowjson.ErrUnchanged
	case "SPARK", "PYSPARK":
	default:
		if hasKind {
			return nil, rowjson.ErrUnchanged
		}
	}

	if hasKind {
		obj["jobType"] = kind
	}
	obj["type"] = SparkType

	for _, d := range dropped {
		delete(obj, d.key)
	}
	delete(obj, "IS_TFONSPARK")
	for _, r := range renames {
		rename(obj, r[0], r[1])
	}

	if v, ok := obj["KAFKA"]; ok {
		kafka, err := object(v, "KAFKA")
		if err != nil {
			return nil, err
		}
		if err := forwardKafka(kafka); err != nil {
			return nil, err
		}
		delete(obj, "KAFKA")
		obj["kafka"] = kafka
	}
	if v, ok := obj["SCHEDULE"]; ok {
		schedule, err := object(v, "SCHEDULE")
		if err != nil {
			return nil, err
		}
		for _, k := range scheduleKeys {
			rename(schedule, k[0], k[1])
		}
		delete(obj, "SCHEDULE")
		obj["schedule"] = schedule
	}
	if v, ok := obj["RESOURCES"]; ok {
		keyed, err := object(v, "RESOURCES")
		if err != nil {
			return nil, err
		}
		list, err := toList(keyed, resourceKeys, "RESOURCES")
		if err != nil {
			return nil, err
		}
		delete(obj, "RESOURCES")
		obj["localResources"] = list
	}
	return obj, nil
}

func forwardKafka(kafka rowjson.Object) error {
	if v, ok := kafka["TOPICS"]; ok {
		keyed, err := object(v, "KAFKA.TOPICS")
		if err != nil {
			return err
		}
		list, err := toList(keyed, [][2]string{{"NAME", "name"}, {"TICKED", "ticked"}}, "KAFKA.TOPICS")
		if err != nil {
			return err
		}
		delete(kafka, "TOPICS")
		kafka["topics"] = list
	}
	if v, ok := kafka["CONSUMER_GROUPS"]; ok {
		keyed, err := object(v, "KAFKA.CONSUMER_GROUPS")
		if err != nil {
			return err
		}
		list, err := toList(keyed, [][2]string{{"NAME", "name"}, {"ID", "id"}}, "KAFKA.CONSUMER_GROUPS")
		if err != nil {
			return err
		}
		delete(kafka, "CONSUMER_GROUPS")
		kafka["consumerGroups"] = list
	}
	rename(kafka, "ADVANCED", "advanced")
	return nil
}

// Backward converts a sparkJobConfiguration document to the legacy shape.
// Anything else is left unchanged.
func Backward(obj rowjson.Object) (rowjson.Object, error) {
	if obj["type"] != SparkType {
		return nil, rowjson.ErrUnchanged
	}
	delete(obj, "type")
	rename(obj, "jobType", "type")

	for _, d := range dropped {
		obj[d.key] = d.value
	}
	for _, r := range renames {
		rename(obj, r[1], r[0])
	}

	if v, ok := obj["kafka"]; ok {
		kafka, err := object(v, "kafka")
		if err != nil {
			return nil, err
		}
		if err := backwardKafka(kafka); err != nil {
			return nil, err
		}
		delete(obj, "kafka")
		obj["KAFKA"] = kafka
	}
	if v, ok := obj["schedule"]; ok {
		schedule, err := object(v, "schedule")
		if err != nil {
			return nil, err
		}
		for _, k := range scheduleKeys {
			rename(schedule, k[1], k[0])
		}
		delete(obj, "schedule")
		obj["SCHEDULE"] = schedule
	}
	if v, ok := obj["localResources"]; ok {
		keyed, err := toKeyed(v, legacyResourceKeys, "localResources")
		if err != nil {
			return nil, err
		}
		delete(obj, "localResources")
		obj["RESOURCES"] = keyed
	}
	return obj, nil
}

func backwardKafka(kafka rowjson.Object) error {
	if v, ok := kafka["topics"]; ok {
		keyed, err := toKeyed(v, [][2]string{{"NAME", "name"}, {"TICKED", "ticked"}}, "kafka.topics")
		if err != nil {
			return err
		}
		delete(kafka, "topics")
		kafka["TOPICS"] = keyed
	}
	if v, ok := kafka["consumerGroups"]; ok {
		keyed, err := toKeyed(v, [][2]string{{"NAME", "name"}, {"ID", "id"}}, "kafka.consumerGroups")
		if err != nil {
			return err
		}
		delete(kafka, "consumerGroups")
		kafka["CONSUMER_GROUPS"] = keyed
	}
	rename(kafka, "advanced", "ADVANCED")
	return nil
}

func object(v any, field string) (rowjson.Object, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fault.DataShape.New("%s: expected an object, got %T", field, v)
	}
	return obj, nil
}

// toList turns {"k": {"NAME": ...}, ...} into [{"name": ...}, ...], ordered
// by key.
func toList(keyed rowjson.Object, fields [][2]string, field string) ([]any, error) {
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]any, 0, len(keys))
	for _, k := range keys {
		item, err := object(keyed[k], field+"."+k)
		if err != nil {
			return nil, err
		}
		out := rowjson.Object{}
		for _, f := range fields {
			if v, ok := item[f[0]]; ok {
				out[f[1]] = v
			}
		}
		list = append(list, out)
	}
	return list, nil
}

// toKeyed turns [{"name": "a", ...}, ...] into {"a": {"NAME": "a", ...}}.
// A value that is already an object only has its inner keys restored.
func toKeyed(v any, fields [][2]string, field string) (rowjson.Object, error) {
	restore := func(item rowjson.Object) rowjson.Object {
		for _, f := range fields {
			rename(item, f[1], f[0])
		}
		return item
	}

	if keyed, ok := v.(map[string]any); ok {
		for k, item := range keyed {
			obj, err := object(item, field+"."+k)
			if err != nil {
				return nil, err
			}
			restore(obj)
		}
		return keyed, nil
	}

	list, ok := v.([]any)
	if !ok {
		return nil, fault.DataShape.New("%s: expected an array, got %T", field, v)
	}
	keyed := rowjson.Object{}
	for i, item := range list {
		obj, err := object(item, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSpace(fmt.Sprint(obj["name"]))
		if obj["name"] == nil || name == "" {
			return nil, fault.DataShape.New("%s[%d]: missing name", field, i)
		}
		keyed[name] = restore(obj)
	}
	return keyed, nil
}
