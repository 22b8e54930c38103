package style

// DefaultStyle is the built-in style used when no --style file is given,
// modelled on osm2pgsql's own default.style: a broad but unopinionated set
// of common top-level tags, each retained on both nodes and ways, with the
// handful of area-heuristic tags flagged polygon and the two linear-network
// tags flagged linear.
const DefaultStyle = `# default style: used when no --style file is given.
node,way   access          text
node,way   addr:housename  text
node,way   addr:housenumber text
node,way   addr:street     text
node,way   admin_level     text
node,way   aerialway       text
node,way   aeroway         text
node,way   amenity         text
node,way   barrier         text
node,way   bicycle         text
node,way   bridge          text
node,way   boundary        text
node,way   building        text     polygon
node,way   construction    text
node,way   covered         text
node,way   culvert         text
node,way   cutting         text
node,way   denomination    text
node,way   disused         text
node,way   embankment      text
node,way   foot            text
node,way   generator:source text
node,way   harbour         text
node,way   highway         text     linear
node,way   historic        text
node,way   horse           text
node,way   intermittent    text
node,way   junction        text
node,way   landuse         text     polygon
node,way   layer           text
node,way   leisure         text     polygon
node,way   lock            text
node,way   man_made        text
node,way   military        text
node,way   motorcar        text
node,way   name            text
node,way   natural         text     polygon
node,way   office          text
node,way   oneway          text
node,way   operator        text
node,way   place           text
node,way   population      text
node,way   power           text
node,way   power_source    text
node,way   public_transport text
node,way   railway         text     linear
node,way   ref             text
node,way   religion        text
node,way   route           text
node,way   service         text
node,way   shop            text
node,way   sport           text
node,way   surface         text
node,way   toll            text
node,way   tourism         text     polygon
node,way   tower:type      text
node,way   tunnel          text
node,way   water           text     polygon
node,way   waterway        text     linear
node,way   wetland         text
node,way   width           text
node,way   wood            text
way        area            text
way        way_area        real
node,way   z_order         int4
node,way   is_in           text
`
